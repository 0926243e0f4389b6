package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyb88999/gns/internal/domain"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Priority
		wantErr error
	}{
		{"High", domain.PriorityHigh, nil},
		{"critical", domain.PriorityCritical, nil},
		{" LOW ", domain.PriorityLow, nil},
		{"", "", nil},
		{"urgent", "", domain.ErrInvalidPriority},
	}
	for _, tc := range tests {
		got, err := domain.ParsePriority(tc.in)
		assert.ErrorIs(t, err, tc.wantErr, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestPriority_TierRoundTrip(t *testing.T) {
	for i, p := range domain.Priorities {
		assert.Equal(t, i, p.Tier())
		assert.Equal(t, p, domain.PriorityFromTier(i))
	}
	assert.Equal(t, domain.PriorityCritical, domain.PriorityFromTier(10))
	assert.Equal(t, domain.PriorityLow, domain.PriorityFromTier(-1))
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]domain.Status{
		{domain.StatusPending, domain.StatusRendering},
		{domain.StatusPending, domain.StatusCancelled},
		{domain.StatusRendering, domain.StatusDelivering},
		{domain.StatusRendering, domain.StatusFailed},
		{domain.StatusDelivering, domain.StatusDelivered},
		{domain.StatusDelivering, domain.StatusRetrying},
		{domain.StatusDelivering, domain.StatusFailed},
		{domain.StatusRetrying, domain.StatusDelivering},
		{domain.StatusRetrying, domain.StatusFailed},
		{domain.StatusDelivered, domain.StatusDelivered},
	}
	for _, tr := range allowed {
		assert.True(t, domain.CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	forbidden := [][2]domain.Status{
		{domain.StatusRendering, domain.StatusPending},
		{domain.StatusRetrying, domain.StatusPending},
		{domain.StatusDelivered, domain.StatusFailed},
		{domain.StatusFailed, domain.StatusRetrying},
		{domain.StatusCancelled, domain.StatusRendering},
		{domain.StatusDelivering, domain.StatusCancelled},
	}
	for _, tr := range forbidden {
		assert.False(t, domain.CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	all := []domain.Status{
		domain.StatusPending, domain.StatusRendering, domain.StatusDelivering,
		domain.StatusDelivered, domain.StatusFailed, domain.StatusRetrying, domain.StatusCancelled,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if to == from {
				continue
			}
			assert.False(t, domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestSubmitRequest_UnmarshalJSON(t *testing.T) {
	t.Run("camelCase task id", func(t *testing.T) {
		var r domain.SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"taskId":"T1","data":{"name":"Dev"},"priority":"High"}`), &r))
		assert.Equal(t, "T1", r.TaskID)
		assert.Equal(t, "Dev", r.Data["name"])
		assert.Equal(t, "High", r.Priority)
	})

	t.Run("snake_case task id and non-string values", func(t *testing.T) {
		var r domain.SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"task_id":"T2","data":{"count":3,"ok":true,"gone":null}}`), &r))
		assert.Equal(t, "T2", r.TaskID)
		assert.Equal(t, "3", r.Data["count"])
		assert.Equal(t, "true", r.Data["ok"])
		_, present := r.Data["gone"]
		assert.False(t, present)
	})

	t.Run("null required value is treated as missing", func(t *testing.T) {
		var r domain.SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"taskId":"T1","data":{"name": null }}`), &r))
		assert.Empty(t, r.Data)
	})
}

func TestNotificationJob_CloneIsDeep(t *testing.T) {
	j := &domain.NotificationJob{
		ID:      "j1",
		Data:    map[string]string{"a": "1"},
		History: []domain.DeliveryResult{{Attempt: 1}},
	}
	j.SetError("boom")

	c := j.Clone()
	c.Data["a"] = "2"
	c.History[0].Attempt = 9
	*c.LastError = "other"

	assert.Equal(t, "1", j.Data["a"])
	assert.Equal(t, 1, j.History[0].Attempt)
	assert.Equal(t, "boom", *j.LastError)
}

func TestTask_InSilentWindow(t *testing.T) {
	at := func(hhmm string) time.Time {
		ts, err := time.Parse("15:04", hhmm)
		require.NoError(t, err)
		return ts
	}

	sameDay := domain.Task{SilentStart: "09:00", SilentEnd: "18:00"}
	assert.True(t, sameDay.InSilentWindow(at("09:00")))
	assert.True(t, sameDay.InSilentWindow(at("12:30")))
	assert.False(t, sameDay.InSilentWindow(at("18:01")))

	overnight := domain.Task{SilentStart: "22:00", SilentEnd: "07:00"}
	assert.True(t, overnight.InSilentWindow(at("23:15")))
	assert.True(t, overnight.InSilentWindow(at("06:59")))
	assert.False(t, overnight.InSilentWindow(at("12:00")))

	none := domain.Task{}
	assert.False(t, none.InSilentWindow(at("12:00")))
}

func TestCreateTaskRequest_Validate(t *testing.T) {
	valid := domain.CreateTaskRequest{
		TemplateID: "greeting",
		Channel:    domain.ChannelWebhook,
		Recipients: []string{"https://example.com/hook"},
	}
	require.NoError(t, valid.Validate())

	r := valid
	r.Channel = "fax"
	assert.ErrorIs(t, r.Validate(), domain.ErrInvalidChannel)

	r = valid
	r.Recipients = []string{" "}
	assert.ErrorIs(t, r.Validate(), domain.ErrInvalidRecipients)

	r = valid
	r.Priority = "urgent"
	assert.ErrorIs(t, r.Validate(), domain.ErrInvalidPriority)

	r = valid
	r.SilentStart = "22:00"
	assert.ErrorIs(t, r.Validate(), domain.ErrInvalidTask)

	r = valid
	r.SilentStart, r.SilentEnd = "25:00", "07:00"
	assert.ErrorIs(t, r.Validate(), domain.ErrInvalidTask)
}
