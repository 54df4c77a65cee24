package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/crypto"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/evidenceStore"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/testutil"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/testutil/testServer"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signForm struct {
	fields map[string]string
	files  map[string][]byte
}

func defaultForm(code string) signForm {
	return signForm{
		fields: map[string]string{
			types.FormFieldSignerID:      "529.982.247-25",
			types.FormFieldDocumentID:    testServer.DocumentID,
			types.FormFieldSignerName:    "Maria Souza",
			types.FormFieldContractTitle: "Acordo de Confidencialidade",
			types.FormFieldOTP:           code,
			types.FormFieldTemplateID:    testServer.TemplateID,
		},
		files: map[string][]byte{types.FormFileRubric: []byte("rubric-png")},
	}
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func postForm(t *testing.T, url, token string, form signForm) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range form.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range form.files {
		fw, err := mw.CreateFormFile(name, name+".bin")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requestCode(t *testing.T, ts *testServer.TestServer, token string) string {
	t.Helper()
	ts.Service.Wait()
	resp := postJSON(t, ts.URL+"/v1/otp", token, types.RequestOTPRequest{
		SignerID:  testutil.ValidSignerID,
		Method:    "Email",
		Recipient: testServer.SignerEmail,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[types.RequestOTPResponse](t, resp)
	assert.Equal(t, ts.Clock.Now().Add(10*time.Minute), body.ExpiresAt.UTC())

	code := ts.Channel.LastCode(testServer.SignerEmail)
	require.Len(t, code, 6)
	return code
}

func TestServer_SignAndRetrieve(t *testing.T) {
	ts := testServer.New(t)
	token := ts.Token(t, "user-1", "")

	resp := postForm(t, ts.URL+"/v1/documents/sign", token, defaultForm(requestCode(t, ts, token)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	signed := decode[types.SignDocumentResponse](t, resp)
	assert.Equal(t, testServer.DocumentID, signed.DocumentID)
	assert.Equal(t, "529.982.247-25", signed.SignerIDFormatted)

	resp, err := http.Get(ts.URL + "/v1/evidence/" + signed.SignatureID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[types.EvidenceRecord](t, resp)
	assert.Equal(t, crypto.HashBytes(testServer.TemplateBytes), rec.SignatureData.Hash)
	assert.Equal(t, testutil.ValidSignerID, rec.SignerID)

	// substring lookup on the signer name
	resp, err = http.Get(ts.URL + "/v1/evidence/" + url.PathEscape("maria souza"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/v1/evidence/" + signed.SignatureID + "/verify")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decode[types.VerifyEvidenceResponse](t, resp)
	assert.True(t, verified.Valid)

	resp, err = http.Get(ts.URL + "/v1/evidence/" + testServer.DocumentID + "?all=true")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]types.EvidenceRecord](t, resp)
	assert.Len(t, all, 1)
}

func TestServer_RejectsMissingToken(t *testing.T) {
	ts := testServer.New(t)

	resp := postJSON(t, ts.URL+"/v1/otp", "", types.RequestOTPRequest{SignerID: testutil.ValidSignerID, Method: "Email", Recipient: testServer.SignerEmail})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = postForm(t, ts.URL+"/v1/documents/sign", "garbage", defaultForm("123456"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	assert.Empty(t, ts.Channel.Messages())
}

func TestServer_TokenBoundToSigner(t *testing.T) {
	ts := testServer.New(t)
	token := ts.Token(t, "user-2", testutil.OtherValidSignerID)

	resp := postJSON(t, ts.URL+"/v1/otp", token, types.RequestOTPRequest{SignerID: testutil.ValidSignerID, Method: "Email", Recipient: testServer.SignerEmail})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_StatusMapping(t *testing.T) {
	ts := testServer.New(t, testServer.WithDuplicatePolicy(evidenceStore.DuplicatePolicyReject))
	token := ts.Token(t, "user-1", "")
	signURL := ts.URL + "/v1/documents/sign"

	t.Run("invalid otp request", func(t *testing.T) {
		resp := postJSON(t, ts.URL+"/v1/otp", token, types.RequestOTPRequest{SignerID: "123", Method: "Email", Recipient: testServer.SignerEmail})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("delivery failure", func(t *testing.T) {
		ts.Channel.FailWith(errors.New("gateway down"))
		defer ts.Channel.FailWith(nil)
		resp := postJSON(t, ts.URL+"/v1/otp", token, types.RequestOTPRequest{SignerID: testutil.ValidSignerID, Method: "SMS", Recipient: "+5511987654321"})
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("wrong code", func(t *testing.T) {
		code := requestCode(t, ts, token)
		wrong := "999999"
		if code == wrong {
			wrong = "999998"
		}
		resp := postForm(t, signURL, token, defaultForm(wrong))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[types.ErrorResponse](t, resp)
		assert.Equal(t, "OtpRejected", body.State)
	})

	t.Run("missing rubric", func(t *testing.T) {
		form := defaultForm(requestCode(t, ts, token))
		delete(form.files, types.FormFileRubric)
		resp := postForm(t, signURL, token, form)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[types.ErrorResponse](t, resp)
		assert.Equal(t, "RejectedInput", body.State)
	})

	t.Run("template and upload together", func(t *testing.T) {
		form := defaultForm(requestCode(t, ts, token))
		form.files[types.FormFileDocument] = []byte("upload")
		resp := postForm(t, signURL, token, form)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("oversized rubric", func(t *testing.T) {
		form := defaultForm(requestCode(t, ts, token))
		form.files[types.FormFileRubric] = make([]byte, testServer.MaxRubricBytes+1)
		resp := postForm(t, signURL, token, form)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("duplicate document", func(t *testing.T) {
		resp := postForm(t, signURL, token, defaultForm(requestCode(t, ts, token)))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp = postForm(t, signURL, token, defaultForm(requestCode(t, ts, token)))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("not multipart", func(t *testing.T) {
		resp := postJSON(t, signURL, token, map[string]string{"signerId": testutil.ValidSignerID})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown evidence", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/evidence/does-not-exist")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestServer_PersistenceFailure(t *testing.T) {
	ts := testServer.New(t)
	token := ts.Token(t, "user-1", "")
	ts.Primary.FailWrites(errors.New("connection reset"))

	resp := postForm(t, ts.URL+"/v1/documents/sign", token, defaultForm(requestCode(t, ts, token)))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode[types.ErrorResponse](t, resp)
	assert.Equal(t, "PersistenceFailed", body.State)
	assert.NotContains(t, body.Error, "connection reset")

	resp, err := http.Get(ts.URL + "/v1/evidence/" + testServer.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	exported, err := ts.Sink.FindByDocumentID(testServer.DocumentID)
	require.NoError(t, err)
	assert.Len(t, exported, 1)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := testServer.New(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "go_goroutines"))

	require.NoError(t, ts.Primary.Close())
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}
