package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/SharedCode/dms"
)

func TestCache_SetGetDelete(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	if found, _, err := c.Get(ctx, "absent"); err != nil || found {
		t.Errorf("absent key: found=%v err=%v", found, err)
	}
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	found, v, err := c.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Errorf("get = (%v, %q, %v)", found, v, err)
	}
	if found, err := c.Delete(ctx, []string{"k", "absent"}); err != nil || !found {
		t.Errorf("delete = (%v, %v)", found, err)
	}
	if found, _, _ := c.Get(ctx, "k"); found {
		t.Errorf("deleted key still present")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestCache_Expiration(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	Now = func() time.Time { return now }
	t.Cleanup(func() { Now = time.Now })

	c := NewCache()
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if found, _, _ := c.Get(ctx, "k"); !found {
		t.Errorf("entry expired early")
	}
	now = now.Add(2 * time.Minute)
	if found, _, _ := c.Get(ctx, "k"); found {
		t.Errorf("entry survived its expiration")
	}
}

func TestCache_StructRoundTrip(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	in := dms.SubmissionItem{ID: "a", Owner: "owner1", SdesCorrelationID: "cid-a", Status: dms.Forwarded}
	if err := c.SetStruct(ctx, "item", in, 0); err != nil {
		t.Fatalf("set struct failed: %v", err)
	}
	var out dms.SubmissionItem
	found, err := c.GetStruct(ctx, "item", &out)
	if err != nil || !found {
		t.Fatalf("get struct = (%v, %v)", found, err)
	}
	if out.ID != in.ID || out.Status != in.Status {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if found, err := c.GetStruct(ctx, "absent", &out); err != nil || found {
		t.Errorf("absent struct: found=%v err=%v", found, err)
	}
}
