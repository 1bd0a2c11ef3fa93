package batching

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vincentbai/regrets-agent/internal/models"
)

const sessionUUID = "acdb772e-e86e-4232-b396-0f69c883958b"

var t0 = time.Date(2020, 3, 31, 10, 13, 9, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func frameAt(tab int, ts time.Time) models.Frame {
	return models.Frame{
		ExtensionSessionUUID: sessionUUID,
		WindowID:             1,
		TabID:                tab,
		TimeStamp:            models.FormatTimeStamp(ts),
	}
}

func mustEnvelope(t *testing.T, p models.Payload) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(p, t0)
	require.NoError(t, err)
	return env
}

func navigation(t *testing.T, tab int, ts time.Time) models.Envelope {
	return mustEnvelope(t, models.Navigation{
		ExtensionSessionUUID: sessionUUID,
		TabID:                tab,
		UUID:                 fmt.Sprintf("nav-%d-%d", tab, ts.UnixMilli()),
		URL:                  "https://www.youtube.com/watch?v=" + fmt.Sprint(ts.UnixMilli()),
		TransitionType:       "link",
		CommittedTimeStamp:   models.FormatTimeStamp(ts),
	})
}

func request(t *testing.T, tab int, ts time.Time) models.Envelope {
	return mustEnvelope(t, models.HTTPRequest{
		Frame:        frameAt(tab, ts),
		URL:          "https://www.youtube.com/youtubei/v1/next",
		Method:       "POST",
		ResourceType: "xmlhttprequest",
	})
}

func response(t *testing.T, tab int, ts time.Time) models.Envelope {
	return mustEnvelope(t, models.HTTPResponse{
		Frame:          frameAt(tab, ts),
		URL:            "https://www.youtube.com/youtubei/v1/next",
		Method:         "POST",
		ResponseStatus: 200,
	})
}

func redirect(t *testing.T, tab int, ts time.Time) models.Envelope {
	return mustEnvelope(t, models.HTTPRedirect{
		Frame:          frameAt(tab, ts),
		OldRequestURL:  "http://youtube.com/",
		NewRequestURL:  "https://www.youtube.com/",
		ResponseStatus: 301,
	})
}

func jsOperation(t *testing.T, tab int, ts time.Time, value string) models.Envelope {
	return mustEnvelope(t, models.JavascriptOperation{
		Frame:     frameAt(tab, ts),
		Symbol:    "window.document.cookie",
		Operation: "get",
		Value:     value,
	})
}

// oversizedValue is roughly 330 KB.
func oversizedValue() string {
	return strings.Repeat("01234567890", 30000)
}

// singleVisit is one page load producing two requests and two responses.
func singleVisit(t *testing.T, tab int, start time.Time) []models.Envelope {
	ms := time.Millisecond
	return []models.Envelope{
		navigation(t, tab, start),
		request(t, tab, start.Add(100*ms)),
		response(t, tab, start.Add(200*ms)),
		request(t, tab, start.Add(300*ms)),
		response(t, tab, start.Add(400*ms)),
	}
}

// linkClick is a navigation followed by 11 requests, 10 responses and
// one redirect.
func linkClick(t *testing.T, tab int, start time.Time) []models.Envelope {
	ms := time.Millisecond
	envs := []models.Envelope{navigation(t, tab, start)}
	offset := 100 * ms
	next := func() time.Time {
		offset += 100 * ms
		return start.Add(offset)
	}
	envs = append(envs, redirect(t, tab, next()))
	for i := 0; i < 10; i++ {
		envs = append(envs, request(t, tab, next()), response(t, tab, next()))
	}
	envs = append(envs, request(t, tab, next()))
	return envs
}

// visitWithOversizedValues is a navigation with 15 children, two of which
// carry oversized javascript values.
func visitWithOversizedValues(t *testing.T, tab int, start time.Time) []models.Envelope {
	ms := time.Millisecond
	big := oversizedValue()
	envs := []models.Envelope{navigation(t, tab, start)}
	kinds := []string{"req", "resp", "js", "js", "big", "req", "resp", "js", "js", "js", "big", "js", "js", "js", "js"}
	for i, kind := range kinds {
		ts := start.Add(time.Duration(i+1) * 50 * ms)
		switch kind {
		case "req":
			envs = append(envs, request(t, tab, ts))
		case "resp":
			envs = append(envs, response(t, tab, ts))
		case "js":
			envs = append(envs, jsOperation(t, tab, ts, "1"))
		case "big":
			envs = append(envs, jsOperation(t, tab, ts, big))
		}
	}
	return envs
}

func queueAll(p *Processor, envs ...[]models.Envelope) {
	for _, group := range envs {
		for _, env := range group {
			p.QueueForProcessing(env)
		}
	}
}
