package assembler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/Arhum2/MarketPlace-Automater/internal/gateway"
	"github.com/Arhum2/MarketPlace-Automater/internal/model"
)

type mockResultAPI struct {
	jobResultFunc func(ctx context.Context, jobID string) (gateway.JobResult, error)
	productFunc   func(ctx context.Context, id string) (model.Product, error)
	imagesFunc    func(ctx context.Context, id string) ([]model.ProductImage, error)
}

func (m *mockResultAPI) JobResult(ctx context.Context, jobID string) (gateway.JobResult, error) {
	return m.jobResultFunc(ctx, jobID)
}

func (m *mockResultAPI) GetProduct(ctx context.Context, id string) (model.Product, error) {
	return m.productFunc(ctx, id)
}

func (m *mockResultAPI) GetImages(ctx context.Context, id string) ([]model.ProductImage, error) {
	return m.imagesFunc(ctx, id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func happyAPI() *mockResultAPI {
	return &mockResultAPI{
		jobResultFunc: func(ctx context.Context, jobID string) (gateway.JobResult, error) {
			return gateway.JobResult{JobID: jobID, ProductID: "prod-1", Status: "completed"}, nil
		},
		productFunc: func(ctx context.Context, id string) (model.Product, error) {
			return model.Product{ID: id, Title: "Chair", Price: "45", Description: "A chair", Status: model.StatusReadyToPost}, nil
		},
		imagesFunc: func(ctx context.Context, id string) ([]model.ProductImage, error) {
			return []model.ProductImage{
				{ID: "img-1", Path: "/img/1.jpg", Ordinal: 0},
				{ID: "img-2", Path: "/img/2.jpg", Ordinal: 1},
			}, nil
		},
	}
}

func TestAssemble_Success(t *testing.T) {
	a := New(happyAPI(), testLogger())

	ep, err := a.Assemble(context.Background(), "job-1", "prod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.ID != "prod-1" || ep.Title != "Chair" {
		t.Fatalf("unexpected product: %+v", ep.Product)
	}
	if len(ep.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(ep.Images))
	}
	// 保持服务端顺序，不做客户端重排
	if ep.Images[0].ID != "img-1" || ep.Images[1].ID != "img-2" {
		t.Fatalf("image order changed: %+v", ep.Images)
	}
	if ep.Thumbnail != "/img/1.jpg" {
		t.Fatalf("expected thumbnail from first image, got %s", ep.Thumbnail)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	a := New(happyAPI(), testLogger())

	first, err := a.Assemble(context.Background(), "job-1", "prod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.Assemble(context.Background(), "job-1", "prod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical responses must yield identical results:\n%+v\n%+v", first, second)
	}
}

func TestAssemble_ImageFailureDegradesToEmptyGallery(t *testing.T) {
	api := happyAPI()
	api.imagesFunc = func(ctx context.Context, id string) ([]model.ProductImage, error) {
		return nil, errors.New("image service down")
	}
	a := New(api, testLogger())

	ep, err := a.Assemble(context.Background(), "job-1", "prod-1")
	if err != nil {
		t.Fatalf("image failure must not abort assembly: %v", err)
	}
	if len(ep.Images) != 0 {
		t.Fatalf("expected empty gallery, got %d images", len(ep.Images))
	}
	if ep.Thumbnail != "" {
		t.Fatalf("expected empty thumbnail, got %s", ep.Thumbnail)
	}
}

func TestAssemble_ProductFailureIsFatal(t *testing.T) {
	cause := errors.New("not found")
	api := happyAPI()
	api.productFunc = func(ctx context.Context, id string) (model.Product, error) {
		return model.Product{}, cause
	}
	a := New(api, testLogger())

	_, err := a.Assemble(context.Background(), "job-1", "prod-1")
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected AssemblyError, got %v", err)
	}
	if asmErr.Stage != "product" {
		t.Fatalf("expected product stage, got %s", asmErr.Stage)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped")
	}
}

func TestAssemble_JobResultFailureIsFatal(t *testing.T) {
	api := happyAPI()
	api.jobResultFunc = func(ctx context.Context, jobID string) (gateway.JobResult, error) {
		return gateway.JobResult{}, errors.New("gone")
	}
	a := New(api, testLogger())

	_, err := a.Assemble(context.Background(), "job-1", "prod-1")
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected AssemblyError, got %v", err)
	}
	if asmErr.Stage != "job_result" {
		t.Fatalf("expected job_result stage, got %s", asmErr.Stage)
	}
}
