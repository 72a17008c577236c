package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryBindLookupUnbind(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Lookup("conn-1"); ok {
		t.Error("expected no binding before Bind")
	}

	reg.Bind("conn-1", "agent-1", "tok-1")
	id, ok := reg.Lookup("conn-1")
	if !ok || id.AgentID != "agent-1" || id.Token != "tok-1" {
		t.Errorf("unexpected identity: %+v ok=%v", id, ok)
	}

	// Re-binding the same connection replaces the identity.
	reg.Bind("conn-1", "agent-2", "tok-2")
	id, _ = reg.Lookup("conn-1")
	if id.AgentID != "agent-2" {
		t.Errorf("expected replaced binding, got %+v", id)
	}

	reg.Unbind("conn-1")
	if _, ok := reg.Lookup("conn-1"); ok {
		t.Error("expected binding removed after Unbind")
	}
}

func TestRegistryIgnoresEmptyConnectionID(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("", "agent-1", "tok-1")
	if reg.Len() != 0 {
		t.Errorf("expected no binding for empty connection id, got %d", reg.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn-%d", n)
			reg.Bind(conn, fmt.Sprintf("agent-%d", n), "tok")
			reg.Lookup(conn)
			if n%2 == 0 {
				reg.Unbind(conn)
			}
		}(i)
	}
	wg.Wait()
	if reg.Len() != 25 {
		t.Errorf("expected 25 surviving bindings, got %d", reg.Len())
	}
}
