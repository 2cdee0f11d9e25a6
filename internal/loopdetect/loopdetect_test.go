package loopdetect

import "testing"

func TestDetectionFiresOnNPlusOnethCall(t *testing.T) {
	d := New(2, 10)
	input := []byte(`{"path":"/tmp/a"}`)

	if _, hit := d.Check("file_read", input); hit {
		t.Fatal("first call must not detect a loop")
	}
	if _, hit := d.Check("file_read", input); hit {
		t.Fatal("second call must not detect a loop")
	}
	det, hit := d.Check("file_read", input)
	if !hit {
		t.Fatal("third identical call must detect a loop")
	}
	if det.ConsecutiveCount != 3 {
		t.Fatalf("expected consecutive count 3, got %d", det.ConsecutiveCount)
	}
}

func TestDetectorClearsAfterDetection(t *testing.T) {
	d := New(2, 10)
	input := []byte(`{}`)
	d.Check("shell", input)
	d.Check("shell", input)
	d.Check("shell", input) // detection, clears

	if _, hit := d.Check("shell", input); hit {
		t.Fatal("expected tracker to be cleared after a detection, not retrigger immediately")
	}
}

func TestCanonicalJSONIgnoresWhitespace(t *testing.T) {
	d := New(2, 10)
	d.Check("grep", []byte(`{"q":"foo","n":1}`))
	d.Check("grep", []byte(`{ "q" : "foo", "n": 1 }`))
	det, hit := d.Check("grep", []byte(`{"n":1,"q":"foo"}`))
	if !hit {
		t.Fatal("expected whitespace/key-order differences to still count as identical")
	}
	if det.ConsecutiveCount != 3 {
		t.Fatalf("expected count 3, got %d", det.ConsecutiveCount)
	}
}

func TestDifferentArgsDoNotAccumulate(t *testing.T) {
	d := New(2, 10)
	d.Check("file_read", []byte(`{"path":"/a"}`))
	d.Check("file_read", []byte(`{"path":"/b"}`))
	if _, hit := d.Check("file_read", []byte(`{"path":"/a"}`)); hit {
		t.Fatal("non-consecutive repeats of the same args must not detect a loop")
	}
}
