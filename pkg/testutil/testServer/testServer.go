// Package testServer runs a fully wired signing server on httptest for
// handler and client tests.
package testServer

import (
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/auth"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/crypto"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/directory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/evidenceStore"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink/csvFileSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	otpMemory "github.com/Layr-Labs/eigenx-esign-go/pkg/otp/memory"
	persistenceMemory "github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/server"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/signing"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/templates"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/timestamp"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/stretchr/testify/require"
)

const (
	SignerEmail = "maria@example.com"
	SenderEmail = "legal@acme.test"
	DocumentID  = "contract-001"
	TemplateID  = "nda"

	MaxDocumentBytes = 64 << 10
	MaxRubricBytes   = 16 << 10
)

// TemplateBytes is the content of the "nda" template
var TemplateBytes = []byte("%PDF-1.4 acordo de confidencialidade")

var jwtSecret = []byte("test-jwt-secret-0123456789abcdef")

// AuthConfig is the issuer and audience the server expects
var AuthConfig = auth.Config{Issuer: "https://id.test", Audience: "eigenx-esign"}

// TestServer is a signing server backed by in-memory stores
type TestServer struct {
	URL     string
	HTTP    *httptest.Server
	Server  *server.Server
	Service *signing.Service
	Channel *testutil.RecordingChannel
	Primary *persistenceMemory.MemoryPersistence
	Sink    *csvFileSink.CSVFileSink
	Clock   *testutil.FakeClock
	Metrics *metrics.Metrics
}

type options struct {
	policy evidenceStore.DuplicatePolicy
}

// Option tweaks the test server
type Option func(*options)

// WithDuplicatePolicy sets the evidence store duplicate policy
func WithDuplicatePolicy(p evidenceStore.DuplicatePolicy) Option {
	return func(o *options) { o.policy = p }
}

// New starts a server and registers its shutdown with t.Cleanup
func New(t *testing.T, opts ...Option) *TestServer {
	t.Helper()

	o := options{policy: evidenceStore.DuplicatePolicyAllow}
	for _, opt := range opts {
		opt(&o)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	clock := testutil.NewFakeClock(time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC))
	m := metrics.New()

	signer, err := crypto.NewSignatureEngine([]byte(testutil.TestSigningKey))
	require.NoError(t, err)
	authorityKey, err := timestamp.DeriveAuthorityKey([]byte(testutil.TestSigningKey))
	require.NoError(t, err)
	authority, err := timestamp.NewHMACAuthority(authorityKey, clock.Now)
	require.NoError(t, err)

	primary := persistenceMemory.NewMemoryPersistence(l)
	sink, err := csvFileSink.NewCSVFileSink(filepath.Join(t.TempDir(), "fallback.csv"), l)
	require.NoError(t, err)
	store := evidenceStore.NewEvidenceStore(primary, sink, evidenceStore.Config{DuplicatePolicy: o.policy}, l, m)

	dir := directory.NewStaticDirectory(
		map[string]types.Contact{testutil.ValidSignerID: testutil.Contact("Maria Souza", SignerEmail)},
		map[string]types.Contact{DocumentID: testutil.Contact("Acme Legal", SenderEmail)},
	)

	channel := testutil.NewRecordingChannel()
	svc, err := signing.NewService(signing.Dependencies{
		Identity:  identity.NewCPFValidator(),
		Registry:  otpMemory.NewMemoryRegistry(otp.Config{TTL: 10 * time.Minute, Clock: clock.Now}, l),
		Channel:   channel,
		Templates: templates.NewStaticRepository(&templates.Template{ID: TemplateID, FileName: "nda.pdf", Bytes: TemplateBytes}),
		Users:     dir,
		Documents: dir,
		Store:     store,
		Signer:    signer,
		Authority: authority,
	}, signing.Config{
		MaxDocumentBytes: MaxDocumentBytes,
		MaxRubricBytes:   MaxRubricBytes,
		Clock:            clock.Now,
	}, l, m)
	require.NoError(t, err)

	verifier, err := auth.NewHMACVerifier(jwtSecret, AuthConfig)
	require.NoError(t, err)

	srv := server.NewServer(server.Config{MaxBodyBytes: MaxDocumentBytes + MaxRubricBytes}, svc, verifier, store, m, l)
	httpServer := httptest.NewServer(srv.GetHandler())

	ts := &TestServer{
		URL:     httpServer.URL,
		HTTP:    httpServer,
		Server:  srv,
		Service: svc,
		Channel: channel,
		Primary: primary,
		Sink:    sink,
		Clock:   clock,
		Metrics: m,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Token mints a bearer token accepted by the server. signerID may be empty.
func (ts *TestServer) Token(t *testing.T, subject, signerID string) string {
	t.Helper()
	token, err := auth.IssueHMACToken(jwtSecret, subject, signerID, AuthConfig, time.Hour)
	require.NoError(t, err)
	return token
}

// Close stops the HTTP server and drains notifications
func (ts *TestServer) Close() {
	ts.HTTP.Close()
	ts.Service.Wait()
}
