package message

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzlov/portalchat/actor"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testFormatter() *Formatter {
	return NewFormatter(time.UTC, "/api/chat/attachments/", func() time.Time { return fixedNow })
}

func TestLabel(t *testing.T) {
	f := testFormatter()
	assert.Equal(t, "Today", f.Label("2026-10-16"))
	assert.Equal(t, "Yesterday", f.Label("2026-10-15"))
	assert.Equal(t, "Tue, 13 Oct 2026", f.Label("2026-10-13"))
	assert.Equal(t, "garbage", f.Label("garbage"))
}

func TestLabelUsesServerCalendar(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	f := NewFormatter(loc, "", func() time.Time { return fixedNow })
	// 20:00 UTC on the 15th is already the 16th in IST
	late := time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-16", f.DateKey(late))
	assert.Equal(t, "Today", f.Label(f.DateKey(late)))
}

func TestView(t *testing.T) {
	f := testFormatter()
	body := "see attached"
	path, name, mime := "chat/x_timetable.png", "timetable.png", "image/png"
	edited := fixedNow
	kind := actor.KindAdmin
	editor := int64(1)
	v := f.View(Message{
		ID:             4,
		CreatedAt:      time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC),
		ActorKind:      actor.KindStaff,
		ActorID:        2,
		ActorName:      "Dr. Rao",
		Body:           &body,
		AttachmentPath: &path,
		AttachmentName: &name,
		AttachmentMime: &mime,
		EditedAt:       &edited,
		EditedByKind:   &kind,
		EditedByID:     &editor,
	})
	assert.Equal(t, "09:05", v.Time)
	assert.Equal(t, "2026-10-16", v.DateKey)
	assert.True(t, v.Edited)
	require.NotNil(t, v.Attachment)
	assert.True(t, v.Attachment.IsImage)
	assert.Equal(t, "/api/chat/attachments/chat/x_timetable.png", v.Attachment.URL)
	assert.Equal(t, &actor.Key{Kind: actor.KindAdmin, ID: 1}, v.EditedBy)
}

func TestItemsSeparators(t *testing.T) {
	f := testFormatter()
	day := func(d, h int) Message {
		return Message{CreatedAt: time.Date(2026, 10, d, h, 0, 0, 0, time.UTC)}
	}
	items := f.Items([]Message{day(14, 9), day(14, 18), day(15, 8), day(16, 7)}, "")
	types := []string{}
	for _, it := range items {
		types = append(types, it.Type)
	}
	assert.Equal(t, []string{"date", "message", "message", "date", "message", "date", "message"}, types)
	assert.Equal(t, "Yesterday", items[3].Label)
	assert.Equal(t, "Today", items[5].Label)

	items = f.Items([]Message{day(14, 20)}, "2026-10-14")
	require.Len(t, items, 1)
	assert.Equal(t, ItemMessage, items[0].Type)
}

// Paging backwards from Recent and prepending each page reproduces the
// full history with one separator per day boundary.
func TestPaginationIdempotence(t *testing.T) {
	s := newTestStore(t, WithClock(stepClock(time.Date(2026, 10, 9, 22, 0, 0, 0, time.UTC), 5*time.Hour)))
	f := testFormatter()
	ctx := context.Background()

	for i := 0; i < 37; i++ {
		_, err := s.Send(ctx, student7, fmt.Sprint(i), nil)
		require.NoError(t, err)
	}
	for _, id := range []int64{1, 6, 7, 20, 33} {
		_, err := s.SoftDelete(ctx, id, student7)
		require.NoError(t, err)
	}

	full, err := s.Recent(ctx, MaxLimit)
	require.NoError(t, err)
	want := flatten(f.Items(full.Messages, ""))

	for _, n := range []int{1, 3, 4, 7, 50} {
		p, err := s.Recent(ctx, n)
		require.NoError(t, err)
		got := f.Items(p.Messages, f.KeyOf(p.PrevAt))
		seen := ids(p.Messages)
		for p.HasMore {
			p, err = s.Before(ctx, p.OldestID, n)
			require.NoError(t, err)
			got = append(f.Items(p.Messages, f.KeyOf(p.PrevAt)), got...)
			seen = append(ids(p.Messages), seen...)
		}
		assert.Equal(t, ids(full.Messages), seen, "page size %d", n)
		assert.Equal(t, want, flatten(got), "page size %d", n)

		days := map[string]int{}
		for _, it := range got {
			if it.Type == ItemDate {
				days[it.DateKey]++
			}
		}
		for k, c := range days {
			assert.Equal(t, 1, c, "separator %s with page size %d", k, n)
		}
	}
}

func flatten(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Type == ItemDate {
			out = append(out, "date:"+it.DateKey)
			continue
		}
		out = append(out, fmt.Sprintf("msg:%d", it.Message.ID))
	}
	return out
}
