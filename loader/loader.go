// Package loader seeds a kernel's root filesystem with embedded
// application images and boots the first one directly, the
// file-system-free path spec §1 calls out as an "early batch-mode
// variant" and SPEC_FULL.md's Supplemented Features preserves
// alongside the filesystem-backed loader exec/spawn otherwise use.
//
// Grounded on original_source/src/loader.rs's load_apps/run_next_app
// (the _num_app record of {n, offsets} spec §6 documents) and its
// batch.rs predecessor, adapted to this module's simulation model:
// since a host process has no RISC-V instruction interpreter, each
// embedded app pairs its ELF bytes with the Go logic that plays its
// role (see task.Kernel.RegisterProgram's doc comment).
package loader

import (
	"fmt"

	"rv39kernel/task"
)

// EmbeddedApp is one entry of the _num_app image table: a name under
// which it is addressable by exec/spawn, its statically linked ELF
// image, and the Go logic standing in for its machine code.
type EmbeddedApp struct {
	Name string
	ELF  []byte
	Body task.Body
}

// LoadEmbedded copies every app's ELF bytes into k's root filesystem
// under its name and registers its Body, mirroring load_apps copying
// app_start[i]..app_start[i+1] into each app's memory slot — here the
// "slot" is a named file rather than a fixed physical address, since
// this kernel loads user images from the filesystem (spec §1) even
// when the images originate from this embedded table.
func LoadEmbedded(k *task.Kernel, apps []EmbeddedApp) {
	for _, a := range apps {
		ino := k.FS.Create(a.Name)
		ino.WriteAt(k.FS, 0, a.ELF)
		k.RegisterProgram(a.Name, a.Body)
	}
}

// Boot seeds apps via LoadEmbedded and starts apps[0] directly as
// initproc, the batch-system equivalent of run_next_app's first call:
// app 0 runs without any open/exec syscall round-trip. Later apps are
// reachable only through exec/spawn by name, since this simulation has
// no current_app cursor to advance automatically on exit.
func Boot(k *task.Kernel, apps []EmbeddedApp) (*task.PCB, error) {
	if len(apps) == 0 {
		return nil, fmt.Errorf("loader: no embedded apps to boot")
	}
	LoadEmbedded(k, apps)
	return k.NewInitProc(apps[0].ELF, apps[0].Body)
}
