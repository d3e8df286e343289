// Command cerbd runs the ticket engine behind an HTTP facade with a demo
// realm: three provisioned principals and two registered services.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cerbauth/cerberos/cerberos"
	"github.com/cerbauth/cerberos/cerbhttp"
	"github.com/cerbauth/cerberos/cerblog"
)

func main() {
	addr := flag.String("addr", ":8088", "listen address")
	realm := flag.String("realm", "CERBEROS.LOCAL", "realm name")
	verbosity := flag.Int("v", 1, "log verbosity 0-3")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := cerblog.New(os.Stderr)
	logger.SetVerbosity(*verbosity)

	if err := run(ctx, *addr, *realm, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, addr, realm string, logger *cerblog.Logger) error {
	keys, err := demoKeys(realm)
	if err != nil {
		return err
	}

	creds, err := cerbhttp.NewStaticCredentialStore(map[string]string{
		"admin": "admin123",
		"user":  "user123",
		"guest": "guest123",
	})
	if err != nil {
		return err
	}
	creds.SetRoles("admin", "admin")
	creds.SetRoles("user", "user")
	creds.SetRoles("guest", "guest")

	perms := cerbhttp.NewStaticPermissionStore(map[string]map[string][]string{
		"admin": {
			"file_service": {"read", "write", "delete"},
			"mail_service": {"read", "write"},
		},
		"user": {
			"file_service": {"read", "write"},
			"mail_service": {"read"},
		},
		"guest": {
			"file_service": {"read"},
		},
	})

	as, err := cerberos.NewAuthServer(cerberos.ASConfig{
		Realm:       realm,
		Credentials: creds,
		Keys:        keys,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	tgs, err := cerberos.NewTicketGrantingServer(cerberos.TGSConfig{
		Realm:       realm,
		Keys:        keys,
		Permissions: perms,
		Replay:      cerberos.NewReplayGuard(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	services := make(map[string]*cerberos.ServiceValidator)
	for _, name := range []string{"file_service", "mail_service"} {
		v, err := cerberos.NewServiceValidator(cerberos.ServiceConfig{
			Service: name,
			Keys:    keys,
			Replay:  cerberos.NewReplayGuard(),
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		services[name] = v
	}

	srv, err := cerbhttp.NewServer(cerbhttp.ServerConfig{
		ListenAddr: addr,
		AS:         as,
		TGS:        tgs,
		Services:   services,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	srv.Wait()
	return nil
}

// demoKeys generates ephemeral realm and service secrets. Tickets do not
// survive a restart; a deployment would load secrets from its keystore.
func demoKeys(realm string) (*cerbhttp.StaticKeySource, error) {
	master := make([]byte, cerberos.KeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	serviceKeys := make(map[string][]byte)
	for _, name := range []string{"file_service", "mail_service"} {
		k := make([]byte, cerberos.KeySize)
		if _, err := rand.Read(k); err != nil {
			return nil, fmt.Errorf("generate service secret: %w", err)
		}
		serviceKeys[name] = k
	}
	return &cerbhttp.StaticKeySource{
		Realm:       realm,
		Master:      master,
		ServiceKeys: serviceKeys,
	}, nil
}
