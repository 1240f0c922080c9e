package main

import (
	"flag"
	"testing"
	"time"
)

func TestIdleTimeoutDefault(t *testing.T) {
	f := flag.Lookup("idle-timeout")
	if f == nil {
		t.Fatal("idle-timeout flag not registered")
	}
	if f.DefValue != (60 * time.Second).String() {
		t.Errorf("idle-timeout default = %s, want 1m0s", f.DefValue)
	}
}
