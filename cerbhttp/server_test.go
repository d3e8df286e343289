package cerbhttp

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cerbauth/cerberos/cerberos"
)

const testRealm = "CERB.TEST"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	creds, err := NewStaticCredentialStore(map[string]string{
		"alice": "alice-password",
		"bob":   "bob-password",
	})
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	perms := NewStaticPermissionStore(map[string]map[string][]string{
		"alice": {"file_service": {"read", "write"}},
		"bob":   {"file_service": {"read"}},
	})
	keys := &StaticKeySource{
		Realm:  testRealm,
		Master: bytes.Repeat([]byte{0x11}, 32),
		ServiceKeys: map[string][]byte{
			"file_service": bytes.Repeat([]byte{0x22}, 32),
		},
	}

	as, err := cerberos.NewAuthServer(cerberos.ASConfig{
		Realm:       testRealm,
		Credentials: creds,
		Keys:        keys,
	})
	if err != nil {
		t.Fatalf("auth server: %v", err)
	}
	tgs, err := cerberos.NewTicketGrantingServer(cerberos.TGSConfig{
		Realm:       testRealm,
		Keys:        keys,
		Permissions: perms,
		Replay:      cerberos.NewReplayGuard(),
	})
	if err != nil {
		t.Fatalf("tgs: %v", err)
	}
	fs, err := cerberos.NewServiceValidator(cerberos.ServiceConfig{
		Service: "file_service",
		Keys:    keys,
		Replay:  cerberos.NewReplayGuard(),
	})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	s, err := NewServer(ServerConfig{
		AS:       as,
		TGS:      tgs,
		Services: map[string]*cerberos.ServiceValidator{"file_service": fs},
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return s
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (*reply, int) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var rep reply
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return &rep, resp.StatusCode
}

func decodeData(t *testing.T, rep *reply, out any) {
	t.Helper()
	buf, err := json.Marshal(rep.Data)
	if err != nil {
		t.Fatalf("remarshal data: %v", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func login(t *testing.T, ts *httptest.Server, principal, password string) *tgtGrantPayload {
	t.Helper()
	rep, status := postJSON(t, ts, "/api/auth/login", loginRequest{
		PrincipalID: principal,
		Credential:  password,
	})
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, rep.Msg)
	}
	var grant tgtGrantPayload
	decodeData(t, rep, &grant)
	return &grant
}

func wireAuthenticator(t *testing.T, grant *tgtGrantPayload) authenticatorPayload {
	t.Helper()
	sessionKey, err := base64.StdEncoding.DecodeString(grant.SessionKey)
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	auth, err := cerberos.NewAuthenticator(grant.SubjectID, sessionKey, time.Now())
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	return authenticatorPayload{
		SubjectID: auth.SubjectID,
		Timestamp: auth.Timestamp,
		Nonce:     auth.Nonce,
		MAC:       base64.StdEncoding.EncodeToString(auth.MAC),
	}
}

func TestHTTPFullFlow(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	grant := login(t, ts, "alice", "alice-password")
	if grant.TGT == "" || grant.SessionKey == "" {
		t.Fatal("login reply missing ticket material")
	}

	rep, status := postJSON(t, ts, "/api/kerberos/service-ticket", serviceTicketRequest{
		TGT:           grant.TGT,
		Authenticator: wireAuthenticator(t, grant),
		Service:       "file_service",
	})
	if status != http.StatusOK {
		t.Fatalf("service ticket status %d: %s", status, rep.Msg)
	}
	var st stGrantPayload
	decodeData(t, rep, &st)
	if st.Service != "file_service" || st.SubjectID != "alice" {
		t.Fatalf("unexpected grant: %+v", st)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/services/file_service/resources/doc1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Service-Ticket", st.ServiceTicket)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("resource request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resource status %d", resp.StatusCode)
	}
	var rres reply
	if err := json.NewDecoder(resp.Body).Decode(&rres); err != nil {
		t.Fatalf("decode resource reply: %v", err)
	}
	var body struct {
		ResourceID string `json:"resource_id"`
		SubjectID  string `json:"subject_id"`
	}
	decodeData(t, &rres, &body)
	if body.ResourceID != "doc1" || body.SubjectID != "alice" {
		t.Fatalf("unexpected resource reply: %+v", body)
	}
}

func TestHTTPLoginRejectsBadPassword(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	rep, status := postJSON(t, ts, "/api/auth/login", loginRequest{
		PrincipalID: "alice",
		Credential:  "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", status)
	}
	if rep.Code != codeAuthFailed {
		t.Fatalf("code %d, want %d", rep.Code, codeAuthFailed)
	}
}

func TestHTTPAuthenticatorReplayConflicts(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	grant := login(t, ts, "alice", "alice-password")
	req := serviceTicketRequest{
		TGT:           grant.TGT,
		Authenticator: wireAuthenticator(t, grant),
		Service:       "file_service",
	}

	if rep, status := postJSON(t, ts, "/api/kerberos/service-ticket", req); status != http.StatusOK {
		t.Fatalf("first request status %d: %s", status, rep.Msg)
	}
	rep, status := postJSON(t, ts, "/api/kerberos/service-ticket", req)
	if status != http.StatusConflict {
		t.Fatalf("replay status %d, want 409", status)
	}
	if rep.Code != codeReplay {
		t.Fatalf("replay code %d, want %d", rep.Code, codeReplay)
	}
}

func TestHTTPRenewReturnsFreshTGT(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	grant := login(t, ts, "alice", "alice-password")
	rep, status := postJSON(t, ts, "/api/kerberos/renew", renewRequest{
		TGT:           grant.TGT,
		Authenticator: wireAuthenticator(t, grant),
	})
	if status != http.StatusOK {
		t.Fatalf("renew status %d: %s", status, rep.Msg)
	}
	var renewed tgtGrantPayload
	decodeData(t, rep, &renewed)
	if renewed.TGT == grant.TGT {
		t.Fatal("renewal returned the same sealed blob")
	}
	if renewed.SubjectID != "alice" {
		t.Fatalf("renewed subject %q", renewed.SubjectID)
	}
}

func TestHTTPWriteDeniedWithoutPermission(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	grant := login(t, ts, "bob", "bob-password")
	rep, status := postJSON(t, ts, "/api/kerberos/service-ticket", serviceTicketRequest{
		TGT:           grant.TGT,
		Authenticator: wireAuthenticator(t, grant),
		Service:       "file_service",
	})
	if status != http.StatusOK {
		t.Fatalf("service ticket status %d: %s", status, rep.Msg)
	}
	var st stGrantPayload
	decodeData(t, rep, &st)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/services/file_service/resources/doc1", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Service-Ticket", st.ServiceTicket)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("resource request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
}

func TestHTTPResourceRequiresTicket(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/services/file_service/resources/doc1")
	if err != nil {
		t.Fatalf("resource request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
}
