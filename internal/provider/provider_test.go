package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/provider"
)

func TestClassifyStatus(t *testing.T) {
	assert.NoError(t, provider.ClassifyStatus(http.StatusOK))
	assert.NoError(t, provider.ClassifyStatus(http.StatusAccepted))

	for _, code := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable} {
		err := provider.ClassifyStatus(code)
		require.Error(t, err, code)
		assert.False(t, provider.IsPermanent(err), code)
	}
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusGone} {
		err := provider.ClassifyStatus(code)
		require.Error(t, err, code)
		assert.True(t, provider.IsPermanent(err), code)

		var se *provider.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, code, se.Code)
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, provider.Permanent(nil))

	base := errors.New("bad recipient")
	err := provider.Permanent(base)
	assert.True(t, provider.IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.True(t, provider.IsPermanent(errors.Join(errors.New("ctx"), err)))
	assert.False(t, provider.IsPermanent(base))
}

func TestWebhookDeliverer_PostsToEveryRecipient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body provider.WebhookRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello Dev", body.Content)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := provider.NewWebhookDeliverer(time.Second)
	resp, err := d.Deliver(context.Background(), "Hello Dev", []string{srv.URL + "/a", srv.URL + "/b"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Contains(t, resp.Summary, "/a 200")
}

func TestWebhookDeliverer_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := provider.NewWebhookDeliverer(time.Second).Deliver(context.Background(), "x", []string{srv.URL})
	require.Error(t, err)
	assert.False(t, provider.IsPermanent(err))
}

func TestWebhookDeliverer_MalformedURLIsPermanent(t *testing.T) {
	_, err := provider.NewWebhookDeliverer(time.Second).Deliver(context.Background(), "x", []string{"not a url"})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestSMSDeliverer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body provider.SMSRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"+8613800000000"}, body.To)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(provider.SMSResponse{MessageID: "m-1", Status: "accepted"})
	}))
	defer srv.Close()

	d := provider.NewSMSDeliverer(srv.URL, "key", time.Second)
	resp, err := d.Deliver(context.Background(), "code 1234", []string{"+8613800000000"})
	require.NoError(t, err)
	assert.Equal(t, "sms m-1 accepted", resp.Summary)

	_, err = d.Deliver(context.Background(), "code 1234", []string{"call me"})
	assert.True(t, provider.IsPermanent(err))
}

type slowDeliverer struct{}

func (slowDeliverer) Deliver(ctx context.Context, _ string, _ []string) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}

func TestGateway_Deliver(t *testing.T) {
	mem := provider.NewMemoryDeliverer()
	g := provider.NewGateway(time.Second, zap.NewNop())
	g.Register(domain.ChannelWebhook, mem)

	res, err := g.Deliver(context.Background(), domain.ChannelWebhook, "hi", []string{"r1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "memory #1", res.ChannelResponse)
	assert.False(t, res.Timestamp.IsZero())

	msgs := mem.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, []string{"r1"}, msgs[0].Recipients)
}

func TestGateway_UnknownChannelIsPermanent(t *testing.T) {
	g := provider.NewGateway(time.Second, zap.NewNop())
	res, err := g.Deliver(context.Background(), domain.ChannelSMS, "hi", []string{"r"})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestGateway_TimeoutIsTransient(t *testing.T) {
	g := provider.NewGateway(20*time.Millisecond, zap.NewNop())
	g.Register(domain.ChannelWebhook, slowDeliverer{})

	_, err := g.Deliver(context.Background(), domain.ChannelWebhook, "hi", []string{"r"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, provider.IsPermanent(err))
}

func TestMemoryDeliverer_Fail(t *testing.T) {
	mem := provider.NewMemoryDeliverer()
	mem.Fail = func(call int) error {
		if call == 1 {
			return errors.New("flaky")
		}
		return nil
	}

	_, err := mem.Deliver(context.Background(), "a", nil)
	require.Error(t, err)
	_, err = mem.Deliver(context.Background(), "b", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, mem.Calls())
	assert.Len(t, mem.Messages(), 1)
}
