package relay

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryFirstClaimWins(t *testing.T) {
	r := NewRegistry()
	if !r.Add("user-a", "conn-1") {
		t.Fatalf("first claim should insert")
	}
	if r.Add("user-a", "conn-2") {
		t.Fatalf("second claim for same user should be a no-op")
	}
	connID, ok := r.Lookup("user-a")
	if !ok || connID != "conn-1" {
		t.Fatalf("lookup after duplicate claim: got (%q, %v), want (conn-1, true)", connID, ok)
	}
}

func TestRegistryAddRemoveLookup(t *testing.T) {
	r := NewRegistry()
	r.Add("user-a", "conn-1")
	userID, ok := r.Remove("conn-1")
	if !ok || userID != "user-a" {
		t.Fatalf("remove: got (%q, %v), want (user-a, true)", userID, ok)
	}
	if _, ok := r.Lookup("user-a"); ok {
		t.Fatalf("lookup after remove should report offline")
	}
}

func TestRegistryRemoveIsKeyedByConnection(t *testing.T) {
	r := NewRegistry()
	r.Add("user-a", "conn-1")
	// The losing claim's connection should not evict the live one.
	r.Add("user-a", "conn-2")
	if _, ok := r.Remove("conn-2"); ok {
		t.Fatalf("conn-2 never held a claim; remove should be a no-op")
	}
	connID, ok := r.Lookup("user-a")
	if !ok || connID != "conn-1" {
		t.Fatalf("live claim evicted: got (%q, %v)", connID, ok)
	}
}

func TestRegistryRemoveAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Remove("conn-unknown"); ok {
		t.Fatalf("removing an unknown connection should be a no-op")
	}
}

func TestRegistryLookupDistinguishesOffline(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("nobody"); ok {
		t.Fatalf("unknown user should be reported offline")
	}
}

func TestRegistryConcurrentClaims(t *testing.T) {
	r := NewRegistry()
	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		connID := fmt.Sprintf("conn-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Add("user-a", connID) {
				wins <- connID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for connID := range wins {
		winners = append(winners, connID)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", len(winners))
	}
	connID, ok := r.Lookup("user-a")
	if !ok || connID != winners[0] {
		t.Fatalf("lookup should return the winner %q, got (%q, %v)", winners[0], connID, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one registry entry, got %d", r.Len())
	}
}

func TestRegistryConcurrentClaimAndDisconnect(t *testing.T) {
	r := NewRegistry()
	const users = 64
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		connID := fmt.Sprintf("conn-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(userID, connID)
			r.Remove(connID)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("all claims were removed, registry should be empty, got %d", r.Len())
	}
}
