//go:build integration

package ingest

import (
	"context"
	"os"
	"testing"

	"github.com/WessleyAI/crisis-mvp/engine/embed/embedtest"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestIngestPipeline_Qdrant(t *testing.T) {
	ctx := context.Background()
	conn, err := semantic.Dial(envOr("QDRANT_URL", "localhost:6334"), os.Getenv("QDRANT_API_KEY"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	texts := semantic.NewFromConn(conn, "test_ingest_texts")
	images := semantic.NewFromConn(conn, "test_ingest_images")
	t.Cleanup(func() {
		texts.DeleteCollection(ctx)
		images.DeleteCollection(ctx)
	})

	logPath, imgDir := writeFixtures(t, "Flood reported near River X at 14:00\n", map[string]string{"flood1.jpg": "flood water"})
	deps := Deps{Text: &embedtest.Text{}, Image: &embedtest.Image{}, Texts: texts, Images: images}

	for i := 0; i < 2; i++ {
		rep, err := Ingest(ctx, deps, logPath, imgDir)
		if err != nil || rep.Failed() != 0 {
			t.Fatalf("run %d: %v %+v", i, err, rep.Errors)
		}
	}
	if n, err := texts.Count(ctx); err != nil || n != 2 {
		t.Fatalf("expected duplicated text points, got %d, %v", n, err)
	}
}
