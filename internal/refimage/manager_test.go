package refimage

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/blobstore"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/store"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollTimeout = 100 * time.Millisecond
	return cfg
}

func testManager() (*Manager, *store.Memory, *providers.MockImageModel) {
	st := store.NewMemory()
	img := &providers.MockImageModel{}
	m := NewManager(st.References(), blobstore.NewMemory(), img, fastConfig(), nil)
	return m, st, img
}

func testEntity() model.Entity {
	return model.Entity{
		ID: "e1", WorkID: "w1", Name: "Lyra", Kind: model.KindCharacter,
		Description: "a young mage with silver hair", FirstAppearance: 1, Active: true,
	}
}

func TestEnsureReference_GeneratesWhenMissing(t *testing.T) {
	m, st, img := testManager()

	ref, err := m.EnsureReference(context.Background(), testEntity(), "fantasy", 1, model.AgeYoung, 1)
	if err != nil {
		t.Fatalf("EnsureReference: %v", err)
	}
	if ref.Method != model.MethodAI || !ref.Active || ref.StylePreset != "fantasy" {
		t.Fatalf("bad reference: %+v", ref)
	}
	if ref.ImagePointer == "" {
		t.Fatal("missing image pointer")
	}
	if len(img.GenerateCalls) != 1 {
		t.Fatalf("expected 1 generation, got %d", len(img.GenerateCalls))
	}
	prompt := img.GenerateCalls[0].Prompt
	for _, want := range []string{"Lyra", "full-body portrait", "clean background", "mage"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("reference prompt missing %q: %s", want, prompt)
		}
	}

	stored, err := st.References().List(context.Background(), store.ReferenceFilter{EntityID: "e1"})
	if err != nil || len(stored) != 1 {
		t.Fatalf("reference not persisted: %v %d", err, len(stored))
	}
}

func TestEnsureReference_ReusesExisting(t *testing.T) {
	m, st, img := testManager()
	ctx := context.Background()

	st.References().Upsert(ctx, model.EntityReference{
		ID: "r1", EntityID: "e1", StylePreset: "fantasy", Active: true, Priority: 1,
		ImagePointer: "blob://existing",
	})

	ref, err := m.EnsureReference(ctx, testEntity(), "fantasy", 2, "", 1)
	if err != nil {
		t.Fatalf("EnsureReference: %v", err)
	}
	if ref.ID != "r1" {
		t.Fatalf("expected reuse of r1, got %s", ref.ID)
	}
	if len(img.GenerateCalls) != 0 {
		t.Fatal("must not generate when an active reference exists")
	}
}

func TestEnsureReference_GenerationFailure(t *testing.T) {
	m, _, img := testManager()
	img.PollFunc = func(_ context.Context, jobID string) (*providers.GenerationStatus, error) {
		return &providers.GenerationStatus{State: providers.GenerationFailed, ErrorDetail: "saturated"}, nil
	}

	_, err := m.EnsureReference(context.Background(), testEntity(), "fantasy", 1, "", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.KindOf(err) != apperr.KindUpstreamPermanent {
		t.Fatalf("expected upstream_permanent, got %v", err)
	}
}

func pngBlob(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	// Pad past the minimum upload size; PNG of a flat image compresses well.
	for buf.Len() < minUploadBytes {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestIngestUpload_Valid(t *testing.T) {
	m, st, _ := testManager()

	ref, err := m.IngestUpload(context.Background(), pngBlob(t, 512, 512), "e1", "fantasy", model.AgeAdult, 3)
	if err != nil {
		t.Fatalf("IngestUpload: %v", err)
	}
	if ref.Method != model.MethodUploaded || ref.AddedAtChapter != 3 {
		t.Fatalf("bad reference: %+v", ref)
	}

	stored, _ := st.References().List(context.Background(), store.ReferenceFilter{EntityID: "e1"})
	if len(stored) != 1 {
		t.Fatalf("not persisted: %d", len(stored))
	}
}

func TestIngestUpload_RejectsTinyBlob(t *testing.T) {
	m, _, _ := testManager()
	_, err := m.IngestUpload(context.Background(), []byte("tiny"), "e1", "fantasy", "", 1)
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestUpload_RejectsWrongType(t *testing.T) {
	m, _, _ := testManager()
	blob := append([]byte("GIF89a"), make([]byte, minUploadBytes)...)
	_, err := m.IngestUpload(context.Background(), blob, "e1", "fantasy", "", 1)
	if apperr.KindOf(err) != apperr.KindUnsupportedFormat {
		t.Fatalf("expected unsupported_format, got %v", err)
	}
}

func TestIngestUpload_RejectsSmallDimensions(t *testing.T) {
	m, _, _ := testManager()
	_, err := m.IngestUpload(context.Background(), pngBlob(t, 64, 64), "e1", "fantasy", "", 1)
	if apperr.KindOf(err) != apperr.KindUnsupportedFormat {
		t.Fatalf("expected dimension rejection, got %v", err)
	}
}

func TestSelectTop_WeightsAndOrder(t *testing.T) {
	m, st, _ := testManager()
	ctx := context.Background()

	for _, r := range []model.EntityReference{
		{ID: "r1", EntityID: "e1", StylePreset: "fantasy", Active: true, Priority: 1, AddedAtChapter: 1, ImagePointer: "p1"},
		{ID: "r2", EntityID: "e1", StylePreset: "fantasy", Active: true, Priority: 5, AddedAtChapter: 1, ImagePointer: "p2"},
		{ID: "r3", EntityID: "e1", StylePreset: "fantasy", Active: true, Priority: 3, AddedAtChapter: 2, ImagePointer: "p3"},
		{ID: "r4", EntityID: "e1", StylePreset: "fantasy", Active: true, Priority: 2, AddedAtChapter: 9, ImagePointer: "p4"},
		{ID: "r5", EntityID: "e1", StylePreset: "fantasy", Active: false, Priority: 9, AddedAtChapter: 1, ImagePointer: "p5"},
	} {
		st.References().Upsert(ctx, r)
	}

	refs, err := m.SelectTop(ctx, "e1", "fantasy")
	if err != nil {
		t.Fatalf("SelectTop: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 references, got %d", len(refs))
	}
	if refs[0].Pointer != "p2" || refs[1].Pointer != "p3" || refs[2].Pointer != "p4" {
		t.Fatalf("wrong selection order: %s %s %s", refs[0].Pointer, refs[1].Pointer, refs[2].Pointer)
	}
	wantWeights := []float64{1.0, 0.8, 0.6}
	for i, w := range wantWeights {
		if refs[i].Weight != w {
			t.Fatalf("weight[%d] = %v, want %v", i, refs[i].Weight, w)
		}
	}
}
