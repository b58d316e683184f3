//go:build js && wasm

package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall/js"

	verrors "github.com/victor-db/victor/internal/errors"
)

// OPFS is the Backend implementation over a browser origin-private
// directory handle (a FileSystemDirectoryHandle obtained by the caller,
// typically via `navigator.storage.getDirectory()`). The platform exposes
// no true append primitive, so Append and Truncate read the whole current
// file, modify it in memory, and rewrite it through a writable stream —
// the read-modify-rewrite strategy the storage abstraction's design
// explicitly allows for this backend.
type OPFS struct {
	dir js.Value
}

// NewOPFS wraps an already-obtained FileSystemDirectoryHandle.
func NewOPFS(dir js.Value) *OPFS {
	return &OPFS{dir: dir}
}

// Close is a no-op: the directory handle has no associated resources to
// release on this side of the JS bridge.
func (b *OPFS) Close() error { return nil }

// OpenOrCreate implements Backend.
func (b *OPFS) OpenOrCreate(ctx context.Context, name string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, verrors.Cancelled("open cancelled before it started")
	}
	opts := js.Global().Get("Object").New()
	opts.Set("create", true)
	fh, err := await(b.dir.Call("getFileHandle", name, opts))
	if err != nil {
		return nil, verrors.Storage("failed to open "+name, err)
	}
	return &opfsHandle{fh: fh, name: name}, nil
}

// Remove implements Backend.
func (b *OPFS) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("remove cancelled before it started")
	}
	if _, err := await(b.dir.Call("removeEntry", name)); err != nil {
		if isNotFound(err) {
			return nil
		}
		return verrors.Storage("failed to remove "+name, err)
	}
	return nil
}

var _ Backend = (*OPFS)(nil)

type opfsHandle struct {
	mu     sync.Mutex
	fh     js.Value
	name   string
	whole  []byte // last whole-file contents read or rewritten; never served as a cache
	closed bool
}

// readWhole fetches the file's full contents. This is the "acknowledged
// cost" the storage abstraction's streaming policy calls out for a backend
// with no random-access read primitive: every ReadRange call (and Size,
// Append, Truncate) pays for a full read.
func (h *opfsHandle) readWhole(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, verrors.Cancelled("read cancelled before it started")
	}
	file, err := await(h.fh.Call("getFile"))
	if err != nil {
		return nil, verrors.Storage("failed to open file for "+h.name, err)
	}
	buf, err := await(file.Call("arrayBuffer"))
	if err != nil {
		return nil, verrors.Storage("failed to read "+h.name, err)
	}
	h.whole = jsArrayBufferToBytes(buf)
	return h.whole, nil
}

func (h *opfsHandle) ReadAll(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readWhole(ctx)
}

func (h *opfsHandle) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.readWhole(ctx)
	if err != nil {
		return nil, err
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

func (h *opfsHandle) rewrite(ctx context.Context, content []byte) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("write cancelled before it started")
	}
	writable, err := await(h.fh.Call("createWritable"))
	if err != nil {
		return verrors.Storage("failed to open writable stream for "+h.name, err)
	}
	if _, err := await(writable.Call("write", bytesToUint8Array(content))); err != nil {
		return verrors.Storage("failed to write "+h.name, err)
	}
	if _, err := await(writable.Call("close")); err != nil {
		return verrors.Storage("failed to flush "+h.name, err)
	}
	h.whole = content
	return nil
}

func (h *opfsHandle) Append(ctx context.Context, p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.readWhole(ctx)
	if err != nil {
		return err
	}
	combined := make([]byte, 0, len(existing)+len(p))
	combined = append(combined, existing...)
	combined = append(combined, p...)
	return h.rewrite(ctx, combined)
}

func (h *opfsHandle) Truncate(ctx context.Context, size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.readWhole(ctx)
	if err != nil {
		return err
	}
	if size > int64(len(data)) {
		size = int64(len(data))
	}
	truncated := make([]byte, size)
	copy(truncated, data[:size])
	return h.rewrite(ctx, truncated)
}

func (h *opfsHandle) Size(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, err := h.readWhole(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// RandomAccess always returns false: every read pays for the whole file.
func (h *opfsHandle) RandomAccess() bool { return false }

// Close is idempotent: see hostfsHandle.Close for why.
func (h *opfsHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.whole = nil
	return nil
}

var _ Handle = (*opfsHandle)(nil)

// await blocks the calling goroutine until a JS Promise settles. Blocking
// here is safe under the Go wasm scheduler: it parks the goroutine and
// yields to the JS event loop, which is what eventually resolves or
// rejects the promise via the callbacks below.
func await(promise js.Value) (js.Value, error) {
	okCh := make(chan js.Value, 1)
	errCh := make(chan js.Value, 1)

	onOk := js.FuncOf(func(_ js.Value, args []js.Value) any {
		var v js.Value
		if len(args) > 0 {
			v = args[0]
		}
		okCh <- v
		return nil
	})
	defer onOk.Release()

	onErr := js.FuncOf(func(_ js.Value, args []js.Value) any {
		var v js.Value
		if len(args) > 0 {
			v = args[0]
		}
		errCh <- v
		return nil
	})
	defer onErr.Release()

	promise.Call("then", onOk, onErr)

	select {
	case v := <-okCh:
		return v, nil
	case e := <-errCh:
		if e.Truthy() && e.Get("message").Truthy() {
			return js.Value{}, fmt.Errorf("%s", e.Get("message").String())
		}
		return js.Value{}, fmt.Errorf("opfs: rejected promise")
	}
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "NotFoundError") || strings.Contains(err.Error(), "not found")
}

func bytesToUint8Array(b []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(b))
	js.CopyBytesToJS(arr, b)
	return arr
}

func jsArrayBufferToBytes(buf js.Value) []byte {
	arr := js.Global().Get("Uint8Array").New(buf)
	out := make([]byte, arr.Get("length").Int())
	js.CopyBytesToGo(out, arr)
	return out
}
