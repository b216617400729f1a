package pressure

import "testing"

type fakeReclaimer struct {
	calls []int
}

func (f *fakeReclaimer) ReclaimGroup(group uint32, need int) (int, error) {
	f.calls = append(f.calls, need)
	return need, nil
}

func TestDriveReclaimsAndResumes(t *testing.T) {
	src := NewSource()
	r := &fakeReclaimer{}
	done := make(chan struct{})
	go func() {
		Drive(src, 1, r)
		close(done)
	}()

	src.Notify(5)
	src.Notify(3)

	if len(r.calls) != 2 || r.calls[0] != 5 || r.calls[1] != 3 {
		t.Fatalf("unexpected calls: %v", r.calls)
	}
}
