package panichandler

import (
	"os"
	"testing"

	"rv39kernel/klog"
	"rv39kernel/sbi"
)

func TestRecoverRequestsFailShutdownAndRepanics(t *testing.T) {
	fw := sbi.NewSim(os.Stdout)
	log := klog.New(fw, klog.Off)

	var repanicked any
	func() {
		defer func() { repanicked = recover() }()
		defer Recover(fw, log)
		panic("frame: double free of ppn 0x1")
	}()

	if repanicked != "frame: double free of ppn 0x1" {
		t.Fatalf("expected Recover to re-panic with the original value, got %v", repanicked)
	}
	if len(fw.ShutdownLog) != 1 || fw.ShutdownLog[0] != true {
		t.Fatalf("expected exactly one Shutdown(true) call, got %v", fw.ShutdownLog)
	}
}

func TestRecoverIsNoopWithoutAPanic(t *testing.T) {
	fw := sbi.NewSim(os.Stdout)
	log := klog.New(fw, klog.Off)

	func() {
		defer Recover(fw, log)
	}()

	if len(fw.ShutdownLog) != 0 {
		t.Fatalf("expected no Shutdown call when nothing panicked, got %v", fw.ShutdownLog)
	}
}
