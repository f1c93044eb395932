package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowmesh-io/sfu/pkg/cluster"
	"github.com/flowmesh-io/sfu/pkg/collab/memory"
	"github.com/flowmesh-io/sfu/pkg/endpoint/httpapi"
	"github.com/flowmesh-io/sfu/pkg/endpoint/httpapi/proto"
)

func newTestServer() *httpapi.Server {
	kv := memory.NewKVMap("node-a")
	pubsub := memory.NewPubSub("node-a")
	d := cluster.New("node-a", kv, pubsub)
	return httpapi.NewServer("node-a", d, 32)
}

func TestWHIPEndpointCreatesConnAndReturnsLocation(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/whip/endpoint?room=r1&peer=alice", strings.NewReader("v=0\r\n"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/whip/conn/") {
		t.Fatalf("expected whip conn location, got %q", loc)
	}
}

func TestWHIPEndpointMissingParamsRejected(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/whip/endpoint", strings.NewReader("v=0\r\n"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWHIPConnDeleteTearsDownConnection(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/whip/endpoint?room=r1&peer=alice", strings.NewReader("v=0\r\n"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	loc := rec.Header().Get("Location")

	del := httptest.NewRequest(http.MethodDelete, loc, nil)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, del)
	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", delRec.Code)
	}

	// A second delete hits an unregistered conn id now that it's dropped.
	delAgain := httptest.NewRequest(http.MethodDelete, loc, nil)
	delAgainRec := httptest.NewRecorder()
	h.ServeHTTP(delAgainRec, delAgain)
	if delAgainRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeated delete, got %d", delAgainRec.Code)
	}
}

func TestWebRTCConnectRoundTrip(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	body := (&proto.ConnectRequest{
		RoomHint: "r1",
		PeerID:   "bob",
		SDPOffer: "v=0\r\n",
		Senders: []proto.SenderDescriptor{
			{TrackName: "cam", Kind: 1},
		},
	}).Marshal()

	req := httptest.NewRequest(http.MethodPost, "/webrtc/connect", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp, err := proto.UnmarshalConnectResponse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ConnID == "" {
		t.Fatal("expected non-empty conn_id")
	}
	if !resp.ICELite {
		t.Fatal("expected ice_lite true")
	}
	if resp.SDP != "v=0\r\n" {
		t.Fatalf("expected echoed SDP offer, got %q", resp.SDP)
	}
}

func TestWebRTCConnActionRequiresKnownConn(t *testing.T) {
	s := newTestServer()
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/webrtc/unknown-conn/ice-candidate", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conn, got %d", rec.Code)
	}
}
