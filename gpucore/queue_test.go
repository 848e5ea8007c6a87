package gpucore

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDevice records submissions and detects overlapping Submit/Wait pairs.
type fakeDevice struct {
	mu       sync.Mutex
	fences   map[FenceID]uint64
	nextID   atomic.Uint64
	inFlight atomic.Int32
	overlap  atomic.Bool
	failWait bool
	timeout  bool
	recorded [][]Command
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{fences: make(map[FenceID]uint64)}
}

func (d *fakeDevice) Name() string                              { return "fake" }
func (d *fakeDevice) SupportsLinearFilter(f TextureFormat) bool { return f.Filterable() }
func (d *fakeDevice) CreateTexture(TextureDesc) (TextureID, error) {
	return TextureID(d.nextID.Add(1)), nil
}
func (d *fakeDevice) WriteTexture(TextureID, int, []float32) error { return nil }
func (d *fakeDevice) DestroyTexture(TextureID)                     {}
func (d *fakeDevice) CreateMesh(MeshDesc) (MeshID, error)          { return MeshID(d.nextID.Add(1)), nil }
func (d *fakeDevice) WriteVertices(MeshID, []Vertex) error         { return nil }
func (d *fakeDevice) DestroyMesh(MeshID)                           {}
func (d *fakeDevice) CreateReadbackBuffer(int) (BufferID, error) {
	return BufferID(d.nextID.Add(1)), nil
}
func (d *fakeDevice) ReadBuffer(BufferID, []float32) error { return nil }
func (d *fakeDevice) DestroyBuffer(BufferID)               {}
func (d *fakeDevice) Close()                               {}

func (d *fakeDevice) CreateFence() (FenceID, error) {
	id := FenceID(d.nextID.Add(1))
	d.mu.Lock()
	d.fences[id] = 0
	d.mu.Unlock()
	return id, nil
}

func (d *fakeDevice) DestroyFence(id FenceID) {
	d.mu.Lock()
	delete(d.fences, id)
	d.mu.Unlock()
}

func (d *fakeDevice) Submit(cmds []Command, fence FenceID, value uint64) error {
	if d.inFlight.Add(1) > 1 {
		d.overlap.Store(true)
	}
	time.Sleep(100 * time.Microsecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[fence]; !ok {
		d.inFlight.Add(-1)
		return ErrUnknownResource
	}
	d.recorded = append(d.recorded, cmds)
	if !d.timeout {
		d.fences[fence] = value
	}
	return nil
}

func (d *fakeDevice) Wait(fence FenceID, value uint64, _ time.Duration) (bool, error) {
	defer d.inFlight.Add(-1)
	if d.failWait {
		return false, ErrDeviceClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences[fence] >= value, nil
}

func TestQueueSubmitAndWaitAdvancesFence(t *testing.T) {
	dev := newFakeDevice()
	q := NewQueue(dev)
	fence, err := q.NewFence()
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	defer fence.Destroy()

	enc := NewCommandEncoder("test")
	for i := 1; i <= 3; i++ {
		enc.Record(ClearTexture{Texture: 1})
		enc.Record(Barrier{Texture: 1})
		if err := q.SubmitAndWait(enc, fence); err != nil {
			t.Fatalf("SubmitAndWait #%d: %v", i, err)
		}
		if got := fence.Value(); got != uint64(i) {
			t.Errorf("fence value after #%d = %d, want %d", i, got, i)
		}
		if enc.Len() != 0 {
			t.Errorf("encoder not reset after submit: %d commands", enc.Len())
		}
	}
	if q.Submissions() != 3 {
		t.Errorf("Submissions = %d, want 3", q.Submissions())
	}
	if len(dev.recorded[0]) != 2 {
		t.Errorf("first submission had %d commands, want 2", len(dev.recorded[0]))
	}
}

func TestQueueSerializesEngines(t *testing.T) {
	dev := newFakeDevice()
	q := NewQueue(dev)

	const engines = 8
	var wg sync.WaitGroup
	errs := make(chan error, engines)
	for i := range engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fence, err := q.NewFence()
			if err != nil {
				errs <- err
				return
			}
			defer fence.Destroy()
			enc := NewCommandEncoder("engine")
			for range 10 {
				enc.Record(Downsample{Texture: TextureID(i + 1), Level: 1})
				if err := q.SubmitAndWait(enc, fence); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("engine error: %v", err)
	}
	if dev.overlap.Load() {
		t.Error("submissions overlapped; queue must serialize submit+wait")
	}
	if q.Submissions() != engines*10 {
		t.Errorf("Submissions = %d, want %d", q.Submissions(), engines*10)
	}
}

func TestQueueErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(d *fakeDevice)
		want  error
	}{
		{"timeout", func(d *fakeDevice) { d.timeout = true }, ErrFenceTimeout},
		{"wait failure", func(d *fakeDevice) { d.failWait = true }, ErrDeviceClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			tt.setup(dev)
			q := NewQueue(dev, WithFenceTimeout(time.Millisecond))
			fence, err := q.NewFence()
			if err != nil {
				t.Fatal(err)
			}
			err = q.SubmitAndWait(NewCommandEncoder("x"), fence)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if fence.Value() != 0 {
				t.Errorf("fence advanced to %d on failure", fence.Value())
			}
		})
	}

	q := NewQueue(newFakeDevice())
	if err := q.SubmitAndWait(NewCommandEncoder("x"), nil); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("nil fence: err = %v, want ErrUnknownResource", err)
	}
}

func TestFenceDestroyTwice(t *testing.T) {
	q := NewQueue(newFakeDevice())
	f, err := q.NewFence()
	if err != nil {
		t.Fatal(err)
	}
	f.Destroy()
	f.Destroy()
	if f.ID() != InvalidID {
		t.Errorf("ID after Destroy = %d, want InvalidID", f.ID())
	}
}
