package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/relay"
	"github.com/gorilla/websocket"
)

func TestNotificationStreamEmitsSessionScheduled(t *testing.T) {
	env := newTestEnvironment(t, nil)
	mentor, mentorToken := env.registerUser(t, "mentor@example.com", "mentor")
	_, studentToken := env.registerUser(t, "student@example.com", "student")

	streamRequest, err := http.NewRequest(http.MethodGet, env.server.URL+"/notifications/stream?access_token="+mentorToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.notifications.SubscriberCount(mentor.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscription")
		}
		time.Sleep(10 * time.Millisecond)
	}

	payload, _ := json.Marshal(map[string]any{
		"mentorId":    mentor.ID,
		"topic":       "recursion",
		"scheduledAt": time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339),
	})
	scheduleReq, err := http.NewRequest(http.MethodPost, env.server.URL+"/sessions", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to construct schedule request: %v", err)
	}
	scheduleReq.Header.Set("Authorization", "Bearer "+studentToken)
	scheduleReq.Header.Set("Content-Type", "application/json")
	scheduleResp, err := http.DefaultClient.Do(scheduleReq)
	if err != nil {
		t.Fatalf("schedule request failed: %v", err)
	}
	var scheduled struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(scheduleResp.Body).Decode(&scheduled); err != nil {
		t.Fatalf("failed to decode schedule response: %v", err)
	}
	_ = scheduleResp.Body.Close()
	if scheduleResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected schedule status: %d", scheduleResp.StatusCode)
	}

	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	timeout := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for notification")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != notify.EventSessionScheduled {
				continue
			}
			var event struct {
				SessionID string `json:"sessionId"`
				Source    string `json:"source"`
			}
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.SessionID != scheduled.ID || event.Source != realtimeSourceBackend {
				t.Fatalf("unexpected notification payload: %+v", event)
			}
			return
		}
	}
}

func TestRoomSocketRequiresToken(t *testing.T) {
	env := newTestEnvironment(t, nil)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected unauthenticated dial to fail")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", response)
	}
}

func TestRoomSocketUsesAuthenticatedIdentity(t *testing.T) {
	env := newTestEnvironment(t, nil)
	_, mentorToken := env.registerUser(t, "owner@example.com", "mentor")
	room := createRoomViaAPI(t, env, mentorToken)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?access_token=" + mentorToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(map[string]string{"roomId": room, "userId": "someone-else"})
	if err := conn.WriteJSON(relay.Envelope{Event: relay.EventJoinRoom, Data: data}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var envelope relay.Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if envelope.Event != relay.EventRoomJoined {
		t.Fatalf("expected room-joined, got %s", envelope.Event)
	}
	var ack relay.RoomJoinedPayload
	if err := json.Unmarshal(envelope.Data, &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.Role != "mentor" || !ack.CanEdit {
		t.Fatalf("expected the token owner to join as mentor, got %+v", ack)
	}
}

func TestRESTAccessChangeReachesConnectedSocket(t *testing.T) {
	env := newTestEnvironment(t, nil)
	_, mentorToken := env.registerUser(t, "owner@example.com", "mentor")
	student, studentToken := env.registerUser(t, "pupil@example.com", "student")
	room := createRoomViaAPI(t, env, mentorToken)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?access_token=" + studentToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readEvent := func() relay.Envelope {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var envelope relay.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return envelope
	}

	data, _ := json.Marshal(map[string]string{"roomId": room})
	if err := conn.WriteJSON(relay.Envelope{Event: relay.EventJoinRoom, Data: data}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if envelope := readEvent(); envelope.Event != relay.EventRoomJoined {
		t.Fatalf("expected room-joined, got %s", envelope.Event)
	}

	status, body := doJSON(t, env, http.MethodPut, "/rooms/"+room+"/access/"+student.ID, mentorToken, map[string]bool{"canEdit": true})
	if status != http.StatusOK || body["canEdit"] != true {
		t.Fatalf("grant failed: %d %v", status, body)
	}
	if envelope := readEvent(); envelope.Event != relay.EventGrantAccess {
		t.Fatalf("expected grant-access on the live socket, got %s", envelope.Event)
	}

	edit, _ := json.Marshal(map[string]string{"roomId": room, "path": "index.js", "code": "console.log(3)"})
	if err := conn.WriteJSON(relay.Envelope{Event: relay.EventCodeChange, Data: edit}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// Frames from one connection are handled in order, so the first error seen
	// belongs to the unknown event unless the edit was rejected.
	if err := conn.WriteJSON(relay.Envelope{Event: "bogus", Data: data}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	envelope := readEvent()
	var failure relay.ErrorPayload
	if err := json.Unmarshal(envelope.Data, &failure); err != nil || envelope.Event != relay.EventError || failure.Message != "unknown event" {
		t.Fatalf("expected granted edit to pass, got %s %+v", envelope.Event, failure)
	}

	if status, body = doJSON(t, env, http.MethodPut, "/rooms/"+room+"/access/"+student.ID, mentorToken, map[string]bool{"canEdit": false}); status != http.StatusOK {
		t.Fatalf("revoke failed: %d %v", status, body)
	}
	if envelope := readEvent(); envelope.Event != relay.EventRevokeAccess {
		t.Fatalf("expected revoke-access on the live socket, got %s", envelope.Event)
	}

	if err := conn.WriteJSON(relay.Envelope{Event: relay.EventCodeChange, Data: edit}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if envelope := readEvent(); envelope.Event != relay.EventError {
		t.Fatalf("expected revoked edit to be rejected, got %s", envelope.Event)
	}
}
