package transport

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/1ureka.net.mesh/internal/session"
)

// Factory 回傳以 WebRTC 建立傳輸層的工廠，供 session 為每個 peer 建立連線。
func Factory() session.TransportFactory {
	return func(initiator bool) (session.Transport, error) {
		return New(initiator)
	}
}

// Transport 封裝 pion PeerConnection 與 DataChannel，實作 session.Transport。
// initiator 端主動建立 DataChannel；responder 端等待遠端宣告。
type Transport struct {
	pc *webrtc.PeerConnection

	mu sync.Mutex
	dc *webrtc.DataChannel

	onCandidate   func(string)
	onOpen        func()
	onMessage     func([]byte)
	onStateChange func(session.ConnState)
}

var _ session.Transport = (*Transport)(nil)

// New 建立一個 WebRTC 傳輸。initiator 端立即建立 DataChannel，
// 使其出現在首個 offer 中；responder 端透過 OnDataChannel 接收。
func New(initiator bool) (*Transport, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}

	t := &Transport{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil 表示蒐集結束
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if fn := t.candidateFn(); fn != nil {
			fn(string(data))
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if fn := t.stateFn(); fn != nil {
			fn(mapState(s))
		}
	})

	if initiator {
		dc, err := createDataChannel(pc)
		if err != nil {
			pc.Close()
			return nil, err
		}
		t.bindChannel(dc)
	} else {
		pc.OnDataChannel(t.bindChannel)
	}

	return t, nil
}

// bindChannel 綁定 DataChannel 並掛上開啟與訊息回呼。
func (t *Transport) bindChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		if fn := t.openFn(); fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if fn := t.messageFn(); fn != nil {
			fn(msg.Data)
		}
	})
	dc.OnClose(func() {
		if fn := t.stateFn(); fn != nil {
			fn(session.ConnStateDisconnected)
		}
	})
}

// CreateOffer 建立 offer 並設為本地描述。候選以 trickle 方式另行送出。
func (t *Transport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// HandleOffer 套用遠端 offer，建立 answer 並設為本地描述後回傳。
func (t *Transport) HandleOffer(sdp string) (string, error) {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return "", err
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// HandleAnswer 套用遠端 answer。
func (t *Transport) HandleAnswer(sdp string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// AddCandidate 解析並加入遠端候選。
func (t *Transport) AddCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return err
	}
	return t.pc.AddICECandidate(init)
}

// Send 將資料寫入 DataChannel。
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil {
		return errors.New("data channel not established")
	}
	return dc.Send(data)
}

// Close 關閉 DataChannel 與 PeerConnection。
func (t *Transport) Close() error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	var errs []error
	if dc != nil {
		errs = append(errs, dc.Close())
	}
	errs = append(errs, t.pc.Close())
	return errors.Join(errs...)
}

// OnCandidate / OnOpen / OnMessage / OnStateChange 註冊回呼，
// 回呼由 pion 的內部 goroutine 觸發。
func (t *Transport) OnCandidate(fn func(string)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnOpen(fn func()) {
	t.mu.Lock()
	t.onOpen = fn
	t.mu.Unlock()
}

func (t *Transport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(session.ConnState)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

func (t *Transport) candidateFn() func(string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onCandidate
}

func (t *Transport) openFn() func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onOpen
}

func (t *Transport) messageFn() func([]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onMessage
}

func (t *Transport) stateFn() func(session.ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onStateChange
}

// mapState 將 pion 連線狀態映射為 session.ConnState。
func mapState(s webrtc.PeerConnectionState) session.ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return session.ConnStateNew
	case webrtc.PeerConnectionStateConnecting:
		return session.ConnStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return session.ConnStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return session.ConnStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return session.ConnStateFailed
	case webrtc.PeerConnectionStateClosed:
		return session.ConnStateClosed
	default:
		return session.ConnStateNew
	}
}
