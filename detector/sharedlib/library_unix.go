//go:build darwin || linux

package sharedlib

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

const maxStringLen = 4096

type nativeLibrary struct {
	mu     sync.Mutex
	handle uintptr

	count func() int32
	id    func(index int32) uintptr
	name  func(index int32) uintptr
	free  func(ptr uintptr)
}

func openLibrary(path string, sym Symbols) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}

	lib := &nativeLibrary{handle: handle}
	bindings := []struct {
		fn   any
		name string
	}{
		{&lib.count, sym.Count},
		{&lib.id, sym.ID},
		{&lib.name, sym.Name},
		{&lib.free, sym.Free},
	}
	for _, b := range bindings {
		addr, err := purego.Dlsym(handle, b.name)
		if err != nil {
			_ = purego.Dlclose(handle)
			return nil, fmt.Errorf("resolve %s: %w", b.name, err)
		}
		purego.RegisterFunc(b.fn, addr)
	}
	return lib, nil
}

func (l *nativeLibrary) Devices() ([]Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == 0 {
		return nil, fmt.Errorf("library closed")
	}

	count := l.count()
	devices := make([]Device, 0, max(count, 0))
	for i := int32(0); i < count; i++ {
		idPtr := l.id(i)
		namePtr := l.name(i)
		if idPtr != 0 {
			devices = append(devices, Device{ID: cString(idPtr), Name: cString(namePtr)})
			l.free(idPtr)
		}
		if namePtr != 0 {
			l.free(namePtr)
		}
	}
	return devices, nil
}

func (l *nativeLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

// cString copies a NUL-terminated C string of at most maxStringLen bytes.
func cString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	n := 0
	for n < maxStringLen && *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}
