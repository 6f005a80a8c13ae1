package predictor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMLURL = "http://ml.test/predict"

func newMockedLive(t *testing.T, timeout time.Duration) *Live {
	t.Helper()

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	l, err := NewLive(LiveConfig{URL: testMLURL, Timeout: timeout, HTTPClient: client})
	require.NoError(t, err)
	return l
}

func testImage() Image {
	return Image{Data: []byte("\xff\xd8\xff\xe0fake-jpeg"), Filename: "leaf.jpg", ContentType: "image/jpeg"}
}

func TestNewLive_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:5000", "ftp://ml/predict", "http://"} {
		_, err := NewLive(LiveConfig{URL: u})
		assert.Error(t, err, u)
	}
}

func TestNewLive_DoesNotMutateInjectedClient(t *testing.T) {
	shared := &http.Client{Timeout: 7 * time.Second}

	l, err := NewLive(LiveConfig{URL: testMLURL, Timeout: time.Second, HTTPClient: shared})
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, shared.Timeout)
	assert.Equal(t, time.Second, l.httpClient.Timeout)
	assert.NotSame(t, shared, l.httpClient)
}

func TestLive_Success(t *testing.T) {
	l := newMockedLive(t, time.Second)

	httpmock.RegisterResponder(http.MethodPost, testMLURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		f, hdr, err := req.FormFile("image")
		if err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		defer f.Close()
		data, _ := io.ReadAll(f)

		assert.Equal(t, "leaf.jpg", hdr.Filename)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		assert.Equal(t, testImage().Data, data)

		return httpmock.NewStringResponse(http.StatusOK, `{
			"success": true,
			"diseaseId": "Tomato___Late_blight",
			"confidence": 0.87,
			"predictions": [
				{"diseaseId": "Tomato___Late_blight", "confidence": 0.87},
				{"diseaseId": "Tomato___Early_blight", "confidence": 0.09},
				{"class_name": "Tomato___Leaf_Mold", "confidence": 0.02}
			],
			"model_version": "v3"
		}`), nil
	})

	p, err := l.Predict(context.Background(), testImage())
	require.NoError(t, err)

	assert.Equal(t, SourceLive, p.Source)
	assert.Equal(t, Candidate{Label: "Tomato___Late_blight", Confidence: 0.87}, p.Top)
	require.Len(t, p.All, 3)
	assert.Equal(t, "Tomato___Early_blight", p.All[1].Label)
	assert.Equal(t, "Tomato___Leaf_Mold", p.All[2].Label)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestLive_ExplicitErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"success false", `{"success": false, "error": "model not loaded"}`, "model not loaded"},
		{"success false with message", `{"success": false, "error": "bad image", "message": "not a leaf"}`, "bad image: not a leaf"},
		{"missing success", `{"diseaseId": "a_b", "confidence": 0.9, "predictions": [{"diseaseId": "a_b", "confidence": 0.9}]}`, "no success flag"},
		{"missing primary", `{"success": true, "predictions": [{"diseaseId": "a_b", "confidence": 0.9}]}`, "no primary prediction"},
		{"missing ranked list", `{"success": true, "diseaseId": "a_b", "confidence": 0.9}`, "no ranked predictions"},
		{"candidate without confidence", `{"success": true, "diseaseId": "a_b", "confidence": 0.9, "predictions": [{"diseaseId": "c_d"}]}`, "has no confidence"},
		{"confidence out of range", `{"success": true, "diseaseId": "a_b", "confidence": 1.5, "predictions": [{"diseaseId": "a_b", "confidence": 1.5}]}`, "invalid prediction"},
		{"not json", `<html>502</html>`, "malformed response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newMockedLive(t, time.Second)
			httpmock.RegisterResponder(http.MethodPost, testMLURL, httpmock.NewStringResponder(http.StatusOK, tt.body))

			_, err := l.Predict(context.Background(), testImage())
			require.Error(t, err)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, SourceLive, perr.Predictor)
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, errors.Is(err, ErrUnavailable))
		})
	}
}

func TestLive_ConnectionRefused(t *testing.T) {
	l := newMockedLive(t, time.Second)
	httpmock.RegisterResponder(http.MethodPost, testMLURL,
		httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}))

	_, err := l.Predict(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLive_Timeout(t *testing.T) {
	l := newMockedLive(t, 50*time.Millisecond)
	httpmock.RegisterResponder(http.MethodPost, testMLURL, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	start := time.Now()
	_, err := l.Predict(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLive_ClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	l, err := NewLive(LiveConfig{URL: "http://" + addr + "/predict", Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = l.Predict(context.Background(), testImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}
