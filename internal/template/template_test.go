package template

import (
	"context"
	"testing"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/store/memstore"
	"github.com/fleetforge/fleetforge/pkg/model"
)

func seedImages(t *testing.T, st *memstore.Store) {
	t.Helper()
	if err := st.CreateImage(context.Background(), &model.Image{ID: "kernel-1", Kind: model.ImageKernel, Name: "vmlinux", CanonicalPath: "/images/vmlinux"}); err != nil {
		t.Fatalf("CreateImage kernel: %v", err)
	}
	if err := st.CreateImage(context.Background(), &model.Image{ID: "rootfs-1", Kind: model.ImageRootfs, Name: "base", CanonicalPath: "/images/base.ext4"}); err != nil {
		t.Fatalf("CreateImage rootfs: %v", err)
	}
}

func TestCreateDefaultsKindToGeneric(t *testing.T) {
	st := memstore.New()
	seedImages(t, st)
	svc := New(st)

	tmpl, err := svc.Create(context.Background(), CreateRequest{
		Name: "default", VCPU: 1, MemMiB: 128, KernelRef: "kernel-1", RootfsRef: "rootfs-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tmpl.Kind != model.TemplateGeneric {
		t.Fatalf("expected generic kind, got %s", tmpl.Kind)
	}
	if tmpl.RestartPolicy != model.RestartOnFailure {
		t.Fatalf("expected default restart policy on-failure, got %s", tmpl.RestartPolicy)
	}
}

func TestCreateFunctionVMTemplate(t *testing.T) {
	st := memstore.New()
	seedImages(t, st)
	if err := st.CreateImage(context.Background(), &model.Image{ID: "fn-runtime-1", Kind: model.ImageFunctionRuntime, Name: "node-fn", CanonicalPath: "/images/node-fn.ext4"}); err != nil {
		t.Fatalf("CreateImage fn-runtime: %v", err)
	}
	svc := New(st)

	tmpl, err := svc.Create(context.Background(), CreateRequest{
		Name: "node-function", VCPU: 1, MemMiB: 256, KernelRef: "kernel-1", RootfsRef: "fn-runtime-1", Kind: model.TemplateFunction,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tmpl.Kind != model.TemplateFunction {
		t.Fatalf("expected function-vm kind, got %s", tmpl.Kind)
	}
}

func TestCreateRejectsUnknownKernelImage(t *testing.T) {
	st := memstore.New()
	svc := New(st)

	_, err := svc.Create(context.Background(), CreateRequest{
		Name: "bad", VCPU: 1, MemMiB: 128, KernelRef: "missing", RootfsRef: "missing",
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResolveReturnsRecipeFields(t *testing.T) {
	st := memstore.New()
	seedImages(t, st)
	svc := New(st)

	tmpl, err := svc.Create(context.Background(), CreateRequest{
		Name: "recipe", VCPU: 2, MemMiB: 512, KernelRef: "kernel-1", RootfsRef: "rootfs-1", BootArgs: "console=ttyS0",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	recipe, err := svc.Resolve(context.Background(), tmpl.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if recipe.VCPU != 2 || recipe.MemMiB != 512 || recipe.BootArgs != "console=ttyS0" {
		t.Fatalf("unexpected recipe: %+v", recipe)
	}
}

func TestDeleteUnknownTemplateReturnsNotFound(t *testing.T) {
	st := memstore.New()
	svc := New(st)

	err := svc.Delete(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not found error")
	}
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}
