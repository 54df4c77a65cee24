package signing

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/crypto"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/directory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/evidenceStore"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink/csvFileSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	otpMemory "github.com/Layr-Labs/eigenx-esign-go/pkg/otp/memory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	persistenceMemory "github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/templates"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/timestamp"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	signerEmail = "maria@example.com"
	senderEmail = "legal@acme.test"
)

var ndaTemplate = []byte("%PDF-1.4 acordo de confidencialidade")

type harness struct {
	svc       *Service
	channel   *testutil.RecordingChannel
	primary   *persistenceMemory.MemoryPersistence
	sink      *csvFileSink.CSVFileSink
	clock     *testutil.FakeClock
	signer    *crypto.SignatureEngine
	authority *timestamp.HMACAuthority
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T, policy evidenceStore.DuplicatePolicy) *harness {
	t.Helper()

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	clock := testutil.NewFakeClock(time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC))
	m := metrics.New()

	signer, err := crypto.NewSignatureEngine([]byte(testutil.TestSigningKey))
	require.NoError(t, err)
	authKey, err := timestamp.DeriveAuthorityKey([]byte(testutil.TestSigningKey))
	require.NoError(t, err)
	authority, err := timestamp.NewHMACAuthority(authKey, clock.Now)
	require.NoError(t, err)

	primary := persistenceMemory.NewMemoryPersistence(l)
	sink, err := csvFileSink.NewCSVFileSink(filepath.Join(t.TempDir(), "fallback.csv"), l)
	require.NoError(t, err)
	store := evidenceStore.NewEvidenceStore(primary, sink, evidenceStore.Config{DuplicatePolicy: policy}, l, m)

	dir := directory.NewStaticDirectory(
		map[string]types.Contact{testutil.ValidSignerID: testutil.Contact("Maria Souza", signerEmail)},
		map[string]types.Contact{"contract-001": testutil.Contact("Acme Legal", senderEmail)},
	)

	channel := testutil.NewRecordingChannel()
	svc, err := NewService(Dependencies{
		Identity:  identity.NewCPFValidator(),
		Registry:  otpMemory.NewMemoryRegistry(otp.Config{TTL: 10 * time.Minute, Clock: clock.Now}, l),
		Channel:   channel,
		Templates: templates.NewStaticRepository(&templates.Template{ID: "nda", FileName: "nda.pdf", Bytes: ndaTemplate}),
		Users:     dir,
		Documents: dir,
		Store:     store,
		Signer:    signer,
		Authority: authority,
	}, Config{MaxRubricBytes: 1024, MaxDocumentBytes: 4096, Clock: clock.Now}, l, m)
	require.NoError(t, err)

	return &harness{
		svc:       svc,
		channel:   channel,
		primary:   primary,
		sink:      sink,
		clock:     clock,
		signer:    signer,
		authority: authority,
		metrics:   m,
	}
}

func (h *harness) requestCode(t *testing.T) string {
	t.Helper()
	// drain notices from earlier transactions so the last message is the code
	h.svc.Wait()
	_, err := h.svc.RequestOTP(context.Background(), RequestOTPInput{
		SignerID:  "529.982.247-25",
		Method:    "email",
		Recipient: signerEmail,
	})
	require.NoError(t, err)
	code := h.channel.LastCode(signerEmail)
	require.Len(t, code, 6)
	return code
}

func templateInput(code string) SignDocumentInput {
	return SignDocumentInput{
		SignerID:      "529.982.247-25",
		DocumentID:    "contract-001",
		SignerName:    "Maria Souza",
		ContractTitle: "Acordo de Confidencialidade",
		OTP:           code,
		Source:        types.TemplateSource("nda"),
		Rubric:        []byte("rubric-png"),
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind, state State) {
	t.Helper()
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, kind, txErr.Kind)
	assert.Equal(t, state, txErr.State)
}

func TestService_SignTemplateDocument(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()

	code := h.requestCode(t)
	res, err := h.svc.SignDocument(ctx, templateInput(code))
	require.NoError(t, err)
	h.svc.Wait()

	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, "contract-001", res.DocumentID)
	assert.Equal(t, "529.982.247-25", res.SignerIDFormatted)
	assert.NotEmpty(t, res.SignatureID)

	rec := res.Record
	assert.Equal(t, testutil.ValidSignerID, rec.SignerID)
	assert.Equal(t, crypto.HashBytes(ndaTemplate), rec.SignatureData.Hash)
	assert.Equal(t, "sha256:"+crypto.HashBytes([]byte("rubric-png")), rec.SignatureData.VisualRubric)
	assert.Equal(t, AuthMethodOTP, rec.SignatureData.AuthMethod)
	assert.Equal(t, "nda.pdf", rec.FileMetadata.Name)
	assert.Equal(t, "template", rec.FileMetadata.Source)
	require.NotNil(t, rec.FileMetadata.RubricaSize)
	assert.Equal(t, int64(len("rubric-png")), *rec.FileMetadata.RubricaSize)
	assert.Equal(t, "2024-03-15T14:00:00.000Z", rec.SignatureData.TimestampData.Timestamp)

	assert.True(t, h.signer.Verify(rec.SignatureData.Hash, rec.SignatureData.SignatureValue,
		rec.SignatureData.TimestampData.Timestamp, rec.SignerID))
	assert.NoError(t, h.authority.Verify(&rec.SignatureData.TimestampData))

	found, err := h.svc.GetEvidence(ctx, "contract-001")
	require.NoError(t, err)
	assert.Equal(t, res.SignatureID, found.ID)

	// both signer and sender are told
	assert.Len(t, h.channel.MessagesTo(signerEmail), 2)
	notices := h.channel.MessagesTo(senderEmail)
	require.Len(t, notices, 1)
	assert.Equal(t, notification.MethodEmail, notices[0].Method)
	assert.Contains(t, notices[0].Body, res.SignatureID)
}

func TestService_SignUploadedDocument(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)

	in := templateInput(h.requestCode(t))
	in.DocumentID = "upload-9"
	in.Source = types.UploadSource([]byte("uploaded bytes"), "lease.pdf")

	res, err := h.svc.SignDocument(context.Background(), in)
	require.NoError(t, err)
	h.svc.Wait()

	assert.Equal(t, "lease.pdf", res.Record.FileMetadata.Name)
	assert.Equal(t, "upload", res.Record.FileMetadata.Source)
	assert.Equal(t, crypto.HashBytes([]byte("uploaded bytes")), res.Record.SignatureData.Hash)
}

func TestService_CodeIsSingleUse(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()

	code := h.requestCode(t)
	_, err := h.svc.SignDocument(ctx, templateInput(code))
	require.NoError(t, err)

	_, err = h.svc.SignDocument(ctx, templateInput(code))
	requireKind(t, err, KindAuth, StateOtpRejected)
	h.svc.Wait()

	all, err := h.svc.ListEvidence(ctx, "contract-001")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_ExpiredCode(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()

	code := h.requestCode(t)
	h.clock.Advance(11 * time.Minute)

	_, err := h.svc.SignDocument(ctx, templateInput(code))
	requireKind(t, err, KindAuth, StateOtpRejected)
	assert.Contains(t, err.Error(), string(otp.ReasonExpired))

	_, err = h.svc.GetEvidence(ctx, "contract-001")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestService_WrongCode(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()

	code := h.requestCode(t)
	wrong := "100000"
	if code == wrong {
		wrong = "100001"
	}

	_, err := h.svc.SignDocument(ctx, templateInput(wrong))
	requireKind(t, err, KindAuth, StateOtpRejected)

	// a mismatch keeps the code alive
	_, err = h.svc.SignDocument(ctx, templateInput(code))
	require.NoError(t, err)
	h.svc.Wait()
}

func TestService_PrimaryFailureWritesFallback(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()
	h.primary.FailWrites(errors.New("disk full"))

	_, err := h.svc.SignDocument(ctx, templateInput(h.requestCode(t)))
	requireKind(t, err, KindPersistence, StatePersistenceFailed)

	var perr *evidenceStore.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.FallbackWritten)

	_, err = h.svc.GetEvidence(ctx, "contract-001")
	assert.Equal(t, KindNotFound, KindOf(err))

	exported, err := h.sink.FindByDocumentID("contract-001")
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, testutil.ValidSignerID, exported[0].SignerID)

	// no notification for a failed transaction
	h.svc.Wait()
	assert.Empty(t, h.channel.MessagesTo(senderEmail))
}

func TestService_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SignDocumentInput)
		kind   ErrorKind
	}{
		{"missing document id", func(in *SignDocumentInput) { in.DocumentID = " " }, KindInput},
		{"missing otp", func(in *SignDocumentInput) { in.OTP = "" }, KindInput},
		{"bad checksum", func(in *SignDocumentInput) { in.SignerID = "529.982.247-26" }, KindInput},
		{"repeated digits", func(in *SignDocumentInput) { in.SignerID = "11111111111" }, KindInput},
		{"unknown template", func(in *SignDocumentInput) { in.Source = types.TemplateSource("lease") }, KindInput},
		{"empty upload", func(in *SignDocumentInput) { in.Source = types.UploadSource(nil, "x.pdf") }, KindInput},
		{"empty rubric", func(in *SignDocumentInput) { in.Rubric = nil }, KindInput},
		{"oversized rubric", func(in *SignDocumentInput) { in.Rubric = make([]byte, 1025) }, KindPayloadTooLarge},
		{"oversized upload", func(in *SignDocumentInput) {
			in.Source = types.UploadSource(make([]byte, 4097), "big.pdf")
		}, KindPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
			code := h.requestCode(t)

			in := templateInput(code)
			tt.mutate(&in)
			_, err := h.svc.SignDocument(context.Background(), in)
			requireKind(t, err, tt.kind, StateRejectedInput)

			// rejected input never consumes the code
			_, err = h.svc.SignDocument(context.Background(), templateInput(code))
			require.NoError(t, err)
			h.svc.Wait()
		})
	}
}

func TestService_DuplicatePolicy(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		h := newHarness(t, evidenceStore.DuplicatePolicyReject)
		ctx := context.Background()

		_, err := h.svc.SignDocument(ctx, templateInput(h.requestCode(t)))
		require.NoError(t, err)

		_, err = h.svc.SignDocument(ctx, templateInput(h.requestCode(t)))
		requireKind(t, err, KindConflict, StateRejectedInput)
		h.svc.Wait()
	})

	t.Run("allow", func(t *testing.T) {
		h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
		ctx := context.Background()

		first, err := h.svc.SignDocument(ctx, templateInput(h.requestCode(t)))
		require.NoError(t, err)
		second, err := h.svc.SignDocument(ctx, templateInput(h.requestCode(t)))
		require.NoError(t, err)
		h.svc.Wait()

		assert.NotEqual(t, first.SignatureID, second.SignatureID)
		all, err := h.svc.ListEvidence(ctx, "contract-001")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		got, err := h.svc.GetEvidence(ctx, "contract-001")
		require.NoError(t, err)
		assert.Equal(t, first.SignatureID, got.ID)
	})
}

func TestService_NotificationFailureIsTolerated(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	code := h.requestCode(t)
	h.channel.FailFor(senderEmail, errors.New("mailbox unavailable"))

	res, err := h.svc.SignDocument(context.Background(), templateInput(code))
	require.NoError(t, err)
	h.svc.Wait()

	assert.Equal(t, StateComplete, res.State)
	assert.Len(t, h.channel.MessagesTo(signerEmail), 2)
}

func TestService_RequestOTP(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()

	res, err := h.svc.RequestOTP(ctx, RequestOTPInput{SignerID: testutil.ValidSignerID, Method: "SMS", Recipient: "+55 11 98765-4321"})
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(10*time.Minute), res.ExpiresAt)

	msgs := h.channel.MessagesTo("+55 11 98765-4321")
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.MethodSMS, msgs[0].Method)
	assert.True(t, strings.Contains(msgs[0].Body, "10 minutos"))

	bad := []RequestOTPInput{
		{SignerID: "", Method: "Email", Recipient: signerEmail},
		{SignerID: testutil.ValidSignerID, Method: "", Recipient: signerEmail},
		{SignerID: testutil.ValidSignerID, Method: "Email", Recipient: ""},
		{SignerID: "12345678900", Method: "Email", Recipient: signerEmail},
		{SignerID: testutil.ValidSignerID, Method: "Fax", Recipient: signerEmail},
		{SignerID: testutil.ValidSignerID, Method: "Email", Recipient: "not-an-address"},
		{SignerID: testutil.ValidSignerID, Method: "WhatsApp", Recipient: "call me"},
	}
	for _, in := range bad {
		_, err := h.svc.RequestOTP(ctx, in)
		assert.Equal(t, KindInput, KindOf(err), "%+v", in)
	}

	h.channel.FailWith(&notification.PermanentError{StatusCode: 400, Err: errors.New("rejected")})
	_, err = h.svc.RequestOTP(ctx, RequestOTPInput{SignerID: testutil.ValidSignerID, Method: "Email", Recipient: signerEmail})
	assert.Equal(t, KindDelivery, KindOf(err))
}

func TestService_VerifyEvidence(t *testing.T) {
	h := newHarness(t, evidenceStore.DuplicatePolicyAllow)
	ctx := context.Background()

	res, err := h.svc.SignDocument(ctx, templateInput(h.requestCode(t)))
	require.NoError(t, err)
	h.svc.Wait()

	v, err := h.svc.VerifyEvidence(ctx, res.SignatureID)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.SignatureValid)
	assert.True(t, v.TimestampValid)

	tampered := res.Record.Clone()
	tampered.ID = "tampered-1"
	tampered.DocumentID = "contract-tampered"
	tampered.SignatureData.Hash = crypto.HashBytes([]byte("other bytes"))
	require.NoError(t, h.primary.SaveEvidence(ctx, tampered, persistence.SaveOptions{}))

	v, err = h.svc.VerifyEvidence(ctx, "tampered-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.False(t, v.SignatureValid)
	assert.True(t, v.TimestampValid)

	_, err = h.svc.VerifyEvidence(ctx, "nothing-here")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Dependencies{}, Config{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature engine")
}
