package upstreams

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/Elenore23/dshackle/internal/config"
	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/pkg/chains"
	"github.com/Elenore23/dshackle/pkg/utils"
	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/hedgepolicy"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NativeUpstream is an Upstream backed directly by a chain node's own RPC
// endpoint: head tracking is a polling loop against the node's own
// "latest block" method, and calls are dispatched through a failsafe-go
// executor built from the upstream's own retry/hedge config.
type NativeUpstream struct {
	*utils.BaseLifecycle

	id     string
	chain  chains.Chain
	role   protocol.Role
	cfg    *config.Upstream
	client *http.Client

	subs  *utils.SubscriptionManager[protocol.UpstreamChangeEvent]
	state *utils.Atomic[*protocol.UpstreamState]

	banned *utils.CMap[string, time.Time]
	lag    *utils.Atomic[*uint64]

	executor failsafe.Executor[NativeCallReply]
}

func NewNativeUpstream(ctx context.Context, cfg *config.Upstream, chain chains.Chain) *NativeUpstream {
	role := protocol.Fallback
	if cfg.Role == "primary" || cfg.Role == "" {
		role = protocol.Primary
	}

	state := utils.NewAtomic[*protocol.UpstreamState]()
	initial := protocol.NewUpstreamState(role)
	if cfg.Labels != nil {
		initial.Labels = cfg.Labels
	}
	if cfg.Options != nil {
		initial.Priority = cfg.Options.Priority
	}
	state.Store(initial)

	up := &NativeUpstream{
		BaseLifecycle: utils.NewBaseLifecycle(fmt.Sprintf("upstream-%s", cfg.Id), ctx),
		id:            cfg.Id,
		chain:         chain,
		role:          role,
		cfg:           cfg,
		client:        &http.Client{Transport: utils.DefaultHttpTransport()},
		subs:          utils.NewSubscriptionManager[protocol.UpstreamChangeEvent](cfg.Id),
		state:         state,
		banned:        utils.NewCMap[string, time.Time](),
		lag:           utils.NewAtomic[*uint64](),
		executor:      buildExecutor(cfg.Options),
	}
	return up
}

func buildExecutor(opts *config.UpstreamOptions) failsafe.Executor[NativeCallReply] {
	var policies []failsafe.Policy[NativeCallReply]

	if opts != nil && opts.FailsafeConfig != nil {
		if hc := opts.FailsafeConfig.HedgeConfig; hc != nil && hc.Count > 0 {
			hedge := hedgepolicy.BuilderWithDelay[NativeCallReply](hc.Delay).
				WithMaxHedges(hc.Count).
				Build()
			policies = append(policies, hedge)
		}
		if rc := opts.FailsafeConfig.RetryConfig; rc != nil && rc.Attempts > 0 {
			retry := retrypolicy.Builder[NativeCallReply]().
				WithMaxRetries(rc.Attempts).
				WithDelay(rc.Delay).
				Build()
			policies = append(policies, retry)
		}
	}

	return failsafe.NewExecutor[NativeCallReply](policies...)
}

func (u *NativeUpstream) Id() string          { return u.id }
func (u *NativeUpstream) Chain() chains.Chain { return u.chain }
func (u *NativeUpstream) Role() protocol.Role { return u.role }

func (u *NativeUpstream) Subscribe(name string) *utils.Subscription[protocol.UpstreamChangeEvent] {
	return u.subs.Subscribe(name)
}

func (u *NativeUpstream) State() *protocol.UpstreamState {
	state := *u.state.Load()
	state.Lag = u.lag.Load()
	return &state
}

func (u *NativeUpstream) SetLag(lag *uint64) { u.lag.Store(lag) }
func (u *NativeUpstream) GetLag() *uint64    { return u.lag.Load() }

func (u *NativeUpstream) NodeId() byte {
	if u.cfg.Options == nil {
		return 0
	}
	return u.cfg.Options.NodeId
}

func (u *NativeUpstream) ClientVersion() string {
	if u.cfg.Options == nil {
		return ""
	}
	return u.cfg.Options.ClientVersion
}

// HttpClient exposes the upstream's own http.Client so tests can install a
// mock transport scoped to this one upstream rather than patching the
// process-wide http.DefaultTransport.
func (u *NativeUpstream) HttpClient() *http.Client {
	return u.client
}

func (u *NativeUpstream) Start() {
	u.BaseLifecycle.Start(func(ctx context.Context) error {
		u.publish(protocol.UpstreamAdded)
		if u.cfg.WsUrl != "" {
			go u.subscribeWsHead(ctx)
		}
		go u.pollHead(ctx)
		return nil
	})
}

func (u *NativeUpstream) pollHead(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.refreshHead(ctx)
		}
	}
}

func (u *NativeUpstream) refreshHead(ctx context.Context) {
	reply, err := u.NativeCall(ctx, NativeCallRequest{Method: "eth_getBlockByNumber", Params: []any{"latest", false}})

	if isFatalSettingsError(err) {
		u.fatalSettingsError(err)
		return
	}

	current := u.state.Load()
	next := *current

	if err != nil || reply.Error != nil {
		next.Availability = protocol.Unavailable
		next.Error = err
		u.state.Store(&next)
		u.publish(protocol.UpstreamUpdated)
		return
	}

	var parsed struct {
		Number string `json:"number"`
		Hash   string `json:"hash"`
	}
	if err := sonic.Unmarshal(reply.Result, &parsed); err != nil {
		next.Availability = protocol.Unavailable
		next.Error = err
		u.state.Store(&next)
		u.publish(protocol.UpstreamUpdated)
		return
	}

	height, err := hexutil.DecodeBig(parsed.Number)
	if err != nil {
		next.Availability = protocol.Unavailable
		next.Error = err
		u.state.Store(&next)
		u.publish(protocol.UpstreamUpdated)
		return
	}

	next.Availability = protocol.Ok
	next.Error = nil
	next.Head = protocol.NewBlockRef(height.Uint64(), parsed.Hash, new(big.Int).Set(height))

	u.state.Store(&next)
	u.publish(protocol.UpstreamUpdated)
}

func isFatalSettingsError(err error) bool {
	var upErr *protocol.UpstreamError
	return errors.As(err, &upErr) && upErr.Code == protocol.FatalSettingsErrorCode
}

// fatalSettingsError stops this upstream unilaterally and reports itself as
// fatally misconfigured rather than merely unavailable - the owning
// Multistream must not retry it, it must evict it.
func (u *NativeUpstream) fatalSettingsError(cause error) {
	current := u.state.Load()
	next := *current
	next.Availability = protocol.Unavailable
	next.Error = cause
	u.state.Store(&next)
	u.Stop()
	u.publish(protocol.UpstreamFatalSettingsErrorRemoved)
}

func (u *NativeUpstream) publish(eventType protocol.UpstreamChangeEventType) {
	u.subs.Publish(protocol.UpstreamChangeEvent{
		UpstreamId: u.id,
		Chain:      u.chain,
		Type:       eventType,
		State:      u.state.Load(),
	})
}

// BanMethod temporarily bans a method: NativeCall rejects it until the ban
// duration elapses, after which the ban is lifted automatically. The
// published Methods set is left unchanged.
func (u *NativeUpstream) BanMethod(method string) {
	duration := 10 * time.Minute
	if u.cfg.Options != nil && u.cfg.Options.Methods != nil && u.cfg.Options.Methods.BanDuration > 0 {
		duration = u.cfg.Options.Methods.BanDuration
	}
	until := time.Now().Add(duration)
	u.banned.Store(method, until)
	u.publish(protocol.UpstreamUpdated)

	go func() {
		time.Sleep(duration)
		if until, ok := u.banned.Load(method); ok && time.Now().After(until) {
			u.banned.Delete(method)
			u.publish(protocol.UpstreamUpdated)
		}
	}()
}

func (u *NativeUpstream) isBanned(method string) bool {
	until, ok := u.banned.Load(method)
	return ok && time.Now().Before(until)
}

func (u *NativeUpstream) NativeCall(ctx context.Context, request NativeCallRequest) (NativeCallReply, error) {
	if u.isBanned(request.Method) {
		return NativeCallReply{}, protocol.NewUpstreamErrorWithData(protocol.BaseError, "method is banned", request.Method)
	}

	return u.executor.GetWithExecution(func(exec failsafe.Execution[NativeCallReply]) (NativeCallReply, error) {
		return u.dispatch(ctx, request)
	})
}

func (u *NativeUpstream) dispatch(ctx context.Context, request NativeCallRequest) (NativeCallReply, error) {
	body, err := sonic.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  request.Method,
		"params":  request.Params,
	})
	if err != nil {
		return NativeCallReply{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.HttpUrl, jsonReader(body))
	if err != nil {
		return NativeCallReply{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range u.cfg.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return NativeCallReply{}, err
	}
	defer utils.CloseBodyReader(ctx, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NativeCallReply{}, protocol.NewUpstreamErrorWithData(protocol.FatalSettingsErrorCode, "upstream rejected credentials", resp.StatusCode)
	}

	rawBody, readErr := readAll(resp.Body)
	if readErr != nil {
		return NativeCallReply{}, protocol.NewIncorrectResponseBodyError(readErr)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeErr := sonic.Unmarshal(rawBody, &rpcResp)
	if decodeErr != nil {
		return NativeCallReply{}, protocol.NewIncorrectResponseBodyError(decodeErr)
	}
	if rpcResp.Error != nil {
		return NativeCallReply{Error: protocol.NewUpstreamErrorFull(rpcResp.Error.Code, rpcResp.Error.Message, nil, nil)}, nil
	}

	log.Debug().Str("upstream", u.id).Str("method", request.Method).Msg("native call served")

	return NativeCallReply{Result: []byte(rpcResp.Result)}, nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func jsonReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
