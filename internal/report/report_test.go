package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/huddle/internal/timespec"
	"github.com/dyluth/huddle/pkg/mirror"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	color.NoColor = true
}

func setupStore(t *testing.T) *mirror.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := mirror.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func negotiation(state, winner string, created time.Time) *mirror.NegotiationRecord {
	r := &mirror.NegotiationRecord{
		ID:          uuid.New().String(),
		RequesterID: "coordinator",
		Task:        "gather_wood",
		State:       state,
		DeadlineMs:  created.Add(time.Second).UnixMilli(),
		CreatedAtMs: created.UnixMilli(),
	}
	if winner != "" {
		r.WinnerID = winner
		r.Bidders = []string{winner, "other"}
		r.WinningValue = 0.5
	}
	return r
}

func entry(area, key, source string, ts time.Time) *mirror.EntryRecord {
	return &mirror.EntryRecord{
		Area:          area,
		Key:           key,
		Value:         `"north"`,
		SourceAgentID: source,
		Confidence:    0.9,
		Kind:          "fact",
		TimestampMs:   ts.UnixMilli(),
	}
}

func TestListNegotiations(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store - default format", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		require.NoError(t, ListNegotiations(ctx, store, OutputFormatDefault, nil, now, &buf))
		assert.Contains(t, buf.String(), "No negotiations found for instance 'test-instance'")
	})

	t.Run("empty store - JSONL format", func(t *testing.T) {
		store := setupStore(t)
		var buf bytes.Buffer
		require.NoError(t, ListNegotiations(ctx, store, OutputFormatJSONL, nil, now, &buf))
		assert.Empty(t, buf.String())
	})

	t.Run("table lists every negotiation oldest first", func(t *testing.T) {
		store := setupStore(t)
		older := negotiation("completed", "miner-1", now.Add(-2*time.Minute))
		newer := negotiation("evaluating", "", now.Add(-5*time.Second))
		require.NoError(t, store.SaveNegotiation(ctx, newer))
		require.NoError(t, store.SaveNegotiation(ctx, older))

		var buf bytes.Buffer
		require.NoError(t, ListNegotiations(ctx, store, OutputFormatDefault, nil, now, &buf))
		output := buf.String()

		assert.Contains(t, output, "Negotiations for instance 'test-instance'")
		assert.Contains(t, output, older.ID[:8])
		assert.Contains(t, output, "miner-1")
		assert.Contains(t, output, "2m ago")
		assert.Contains(t, output, "5s ago")
		assert.Contains(t, output, "2 negotiations found")
		assert.Less(t, strings.Index(output, older.ID[:8]), strings.Index(output, newer.ID[:8]))
	})

	t.Run("filters by state agent and window", func(t *testing.T) {
		store := setupStore(t)
		a := negotiation("completed", "miner-1", now.Add(-2*time.Hour))
		b := negotiation("completed", "builder-1", now.Add(-time.Minute))
		c := negotiation("expired", "", now.Add(-time.Minute))
		for _, r := range []*mirror.NegotiationRecord{a, b, c} {
			require.NoError(t, store.SaveNegotiation(ctx, r))
		}

		window, err := timespec.ParseRange("1h", "", now)
		require.NoError(t, err)

		tests := []struct {
			name   string
			filter *Filter
			want   []string
		}{
			{"state", &Filter{State: "completed"}, []string{a.ID, b.ID}},
			{"agent", &Filter{Agent: "builder-1"}, []string{b.ID}},
			{"window", &Filter{Window: window}, []string{b.ID, c.ID}},
			{"combined", &Filter{Window: window, State: "completed"}, []string{b.ID}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, ListNegotiations(ctx, store, OutputFormatJSONL, tt.filter, now, &buf))

				var got []string
				dec := json.NewDecoder(&buf)
				for dec.More() {
					var r mirror.NegotiationRecord
					require.NoError(t, dec.Decode(&r))
					got = append(got, r.ID)
				}
				assert.ElementsMatch(t, tt.want, got)
			})
		}
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		store := setupStore(t)
		err := ListNegotiations(ctx, store, "yaml", nil, now, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestListKnowledge(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.SaveEntry(ctx, entry("threats", "creeper:north", "scout-1", now.Add(-10*time.Second))))
	require.NoError(t, store.SaveEntry(ctx, entry("threats", "zombie:east", "scout-2", now.Add(-5*time.Second))))
	require.NoError(t, store.SaveEntry(ctx, entry("resources", "iron:12,40", "miner-1", now.Add(-time.Second))))

	t.Run("all areas table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListKnowledge(ctx, store, nil, OutputFormatDefault, nil, now, &buf))
		output := buf.String()
		assert.Contains(t, output, "creeper:north")
		assert.Contains(t, output, "iron:12,40")
		assert.Contains(t, output, "0.90")
		assert.Contains(t, output, "3 entries found")
	})

	t.Run("single area", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListKnowledge(ctx, store, []string{"resources"}, OutputFormatDefault, nil, now, &buf))
		assert.Contains(t, buf.String(), "1 entry found")
	})

	t.Run("key glob and agent", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListKnowledge(ctx, store, []string{"threats"}, OutputFormatJSONL, &Filter{KeyGlob: "zombie:*"}, now, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], "zombie:east")

		buf.Reset()
		require.NoError(t, ListKnowledge(ctx, store, nil, OutputFormatJSONL, &Filter{Agent: "miner-1"}, now, &buf))
		assert.Contains(t, buf.String(), "iron:12,40")
		assert.NotContains(t, buf.String(), "creeper")
	})

	t.Run("unknown area", func(t *testing.T) {
		err := ListKnowledge(ctx, store, []string{"nether"}, OutputFormatDefault, nil, now, &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListKnowledge(ctx, store, []string{"build_plans"}, OutputFormatDefault, nil, now, &buf))
		assert.Contains(t, buf.String(), "No knowledge found")
	})
}

func TestGetNegotiation(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	rec := negotiation("awarded", "miner-1", now)
	require.NoError(t, store.SaveNegotiation(ctx, rec))

	t.Run("found", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, GetNegotiation(ctx, store, rec.ID, &buf))

		var got mirror.NegotiationRecord
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "miner-1", got.WinnerID)
		assert.Contains(t, buf.String(), "\n  \"state\": \"awarded\"")
	})

	t.Run("not found", func(t *testing.T) {
		err := GetNegotiation(ctx, store, uuid.New().String(), &bytes.Buffer{})
		assert.True(t, IsNotFound(err))
	})

	t.Run("invalid id", func(t *testing.T) {
		err := GetNegotiation(ctx, store, "abc", &bytes.Buffer{})
		assert.ErrorContains(t, err, "must be a valid UUID")
		assert.False(t, IsNotFound(err))
	})
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", truncate("\n  \n", 10))
	assert.Equal(t, "first", truncate("\nfirst\nsecond", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))

	assert.Equal(t, "-", formatAge(0, now))
	assert.Equal(t, "0s ago", formatAge(now.Add(time.Second).UnixMilli(), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour).UnixMilli(), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour).UnixMilli(), now))

	assert.Equal(t, "abcdefgh", formatID("abcdefgh-1234"))
	assert.Equal(t, "-", dash(""))
}
