// calendar-sim is an in-memory stand-in for the external calendar
// service used in local development. It speaks the same JSON API the
// gateway expects and adds a /respond endpoint so attendee responses
// can be simulated from curl.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type attendee struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Response string `json:"response"`
}

type event struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body,omitempty"`
	Location  string     `json:"location,omitempty"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Tentative bool       `json:"tentative"`
	Attendees []attendee `json:"attendees"`
}

var (
	mu     sync.Mutex
	events = make(map[string]*event)
	nextID int64
)

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", createEvent)
	mux.HandleFunc("GET /events/{ref}", getEvent)
	mux.HandleFunc("DELETE /events/{ref}", deleteEvent)
	mux.HandleFunc("POST /events/{ref}/attendees", addAttendee)
	mux.HandleFunc("POST /events/{ref}/respond", respond)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		events = make(map[string]*event)
		mu.Unlock()
		fmt.Fprintln(w, "reset")
	})

	log.Printf("calendar-sim listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func createEvent(w http.ResponseWriter, r *http.Request) {
	var ev event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	for i := range ev.Attendees {
		if ev.Attendees[i].Response == "" {
			ev.Attendees[i].Response = "none"
		}
	}

	mu.Lock()
	nextID++
	ev.ID = fmt.Sprintf("evt-%d", nextID)
	events[ev.ID] = &ev
	mu.Unlock()

	log.Printf("created %s: %q %s - %s (tentative=%v)", ev.ID, ev.Subject, ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339), ev.Tentative)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": ev.ID})
}

func getEvent(w http.ResponseWriter, r *http.Request) {
	mu.Lock()
	ev, ok := events[r.PathValue("ref")]
	mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

func deleteEvent(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	mu.Lock()
	_, ok := events[ref]
	delete(events, ref)
	mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	log.Printf("deleted %s", ref)
	w.WriteHeader(http.StatusNoContent)
}

func addAttendee(w http.ResponseWriter, r *http.Request) {
	var a attendee
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	if a.Response == "" {
		a.Response = "none"
	}

	ref := r.PathValue("ref")
	mu.Lock()
	ev, ok := events[ref]
	if ok {
		ev.Attendees = append(ev.Attendees, a)
	}
	mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	log.Printf("added attendee %s (%s) to %s", a.Email, a.Role, ref)
	w.WriteHeader(http.StatusNoContent)
}

// respond sets an attendee's response by role, simulating the accept or
// decline a real calendar would record.
func respond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role     string `json:"role"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	ref := r.PathValue("ref")
	mu.Lock()
	ev, ok := events[ref]
	found := false
	if ok {
		for i := range ev.Attendees {
			if ev.Attendees[i].Role == req.Role {
				ev.Attendees[i].Response = req.Response
				found = true
			}
		}
	}
	mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !found {
		http.Error(w, "no attendee with that role", http.StatusUnprocessableEntity)
		return
	}
	log.Printf("%s: %s responded %s", ref, req.Role, req.Response)
	w.WriteHeader(http.StatusNoContent)
}
