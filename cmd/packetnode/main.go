// Command packetnode runs the amateur-radio packet-switching node: the
// KISS/AX.25 frame plane, digipeater, connected-mode session engine,
// APRS-message BBS, mesh chat, and weather-alert repeater, wired
// together from a YAML configuration file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/na7dx/packetnode/internal/alerter"
	"github.com/na7dx/packetnode/internal/aprs"
	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/bbs"
	"github.com/na7dx/packetnode/internal/callsign"
	"github.com/na7dx/packetnode/internal/channel"
	"github.com/na7dx/packetnode/internal/chat"
	"github.com/na7dx/packetnode/internal/chatsync"
	"github.com/na7dx/packetnode/internal/config"
	"github.com/na7dx/packetnode/internal/mesh"
	"github.com/na7dx/packetnode/internal/mesh/loopback"
	"github.com/na7dx/packetnode/internal/metrics"
	"github.com/na7dx/packetnode/internal/node"
	"github.com/na7dx/packetnode/internal/persist"
	"github.com/na7dx/packetnode/internal/persist/memory"
	"github.com/na7dx/packetnode/internal/persist/sqlite"
	"github.com/na7dx/packetnode/internal/session"
	"github.com/na7dx/packetnode/internal/tasks"
	"github.com/na7dx/packetnode/internal/weather"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "c", "packetnode.yaml", "path to YAML configuration file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	listenAGW := pflag.String("listen-agw", "", "override the host:port of every agw-adapter channel")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "packetnode: "+err.Error())
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *listenAGW != "" {
		applyAGWOverride(&cfg, *listenAGW)
	}

	logger := log.Default()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	store, err := openPersistence(cfg.Persistence)
	if err != nil {
		logger.Error("failed to open persistence backend", "err", err)
		return 1
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.NewRegistry()
	nodeMgr := node.NewManager(logger, reg)

	if err := wireChannels(ctx, nodeMgr, cfg); err != nil {
		logger.Error("failed to wire channels", "err", err)
		return 1
	}
	for _, r := range cfg.Routes {
		nodeMgr.AddRoute(r.From, r.To)
	}

	alert := alerter.New(func(a alerter.Alert) {
		logger.Info("bbs alert", "callsign", a.Callsign, "reason", a.Reason, "count", a.Count)
	})
	bbsStore := bbs.NewStore(store, func(m bbs.Message) {
		if m.Category == bbs.CategoryPersonal {
			alert.OnNewMessage(m.Recipient)
		}
	})
	bbsStore.SetOnRetrieved(alert.Reset)
	if err := bbsStore.Load(ctx); err != nil {
		logger.Warn("bbs store load failed, starting empty", "err", err)
	}

	bbsUsers := bbs.NewUserDirectory(store)
	if err := bbsUsers.Load(ctx); err != nil {
		logger.Warn("bbs user directory load failed, starting empty", "err", err)
	}

	sessionMgr := wireSessions(logger, cfg, nodeMgr, bbsStore, bbsUsers)
	myCalls := make(map[string]callsign.Callsign, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		if c, err := callsign.Parse(ch.MyCall); err == nil {
			myCalls[ch.ID] = c
		}
	}
	weatherRepeater := newWeatherRepeater(logger, nodeMgr, cfg, myCalls)
	aprsBBS := newAPRSBBS(nodeMgr, bbsStore, cfg.BBS, myCalls)

	nodeMgr.SetHandlers(node.Handlers{
		OnFrame: func(e node.FrameEvent) {
			if myCall, ok := myCalls[e.Channel]; ok {
				sessionMgr.HandleFrame(e.Channel, myCall, e.Parsed)
			}
			aprsBBS.observe(e)
			// A frame arriving from a station with pending unread
			// personal messages earns a reminder.
			if unread := bbsStore.UnreadCountFor(e.Parsed.Src.Call.Base); unread > 0 {
				alert.ObserveFrame(e.Parsed.Src.Call.Base, unread, e.Ts)
			}
			weatherRepeater.observe(e)
			recordLastHeard(store, e)
		},
	})

	transport := loopback.New()
	chatMgr, chatEngine := wireChatSync(transport, cfg.Chat)

	scheduler := wireScheduler(logger, nodeMgr, bbsStore, alert, chatEngine, chatMgr, weatherRepeater, cfg)
	scheduler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("packetnode started", "channels", len(cfg.Channels))
	<-sigCh

	logger.Info("shutting down")
	cancel()
	return 0
}

// lastHeardRecorder is implemented by persistence backends that keep a
// dedicated last-heard table (sqlite.Store does; memory.Store doesn't,
// since there's nothing to survive a restart for). Checked with a type
// assertion rather than added to persist.Store so the generic
// interface stays backend-agnostic.
type lastHeardRecorder interface {
	RecordLastHeard(ctx context.Context, callsignStr, channel, heardAt string) error
}

// recordLastHeard updates the last-heard table for e's source station,
// if the configured persistence backend keeps one.
func recordLastHeard(store persist.Store, e node.FrameEvent) {
	lhr, ok := store.(lastHeardRecorder)
	if !ok {
		return
	}
	_ = lhr.RecordLastHeard(context.Background(), e.Parsed.Src.Call.String(), e.Channel, e.Ts.Format(time.RFC3339))
}

// applyAGWOverride points every agw-adapter channel at addr, so an
// operator can redirect the node at a different AGWPE endpoint without
// editing the configuration file.
func applyAGWOverride(cfg *config.Config, addr string) {
	for i := range cfg.Channels {
		if cfg.Channels[i].Adapter == "agw" {
			cfg.Channels[i].Address = addr
		}
	}
}

func openPersistence(cfg config.PersistenceConfig) (persist.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(cfg.Path, nil)
	default:
		return nil, fmt.Errorf("config: unknown persistence backend %q", cfg.Backend)
	}
}

func wireChannels(ctx context.Context, mgr *node.Manager, cfg config.Config) error {
	for _, ch := range cfg.Channels {
		myCall, err := callsign.Parse(ch.MyCall)
		if err != nil {
			return fmt.Errorf("channel %q: %w", ch.ID, err)
		}

		digis := make([]callsign.Callsign, 0, len(ch.DigiCallsigns))
		for _, d := range ch.DigiCallsigns {
			c, err := callsign.Parse(d)
			if err != nil {
				return fmt.Errorf("channel %q digi callsign: %w", ch.ID, err)
			}
			digis = append(digis, c)
		}

		role := node.RoleWide
		if ch.Role == "fill-in" {
			role = node.RoleFillIn
		}

		adapter, err := newAdapter(ch)
		if err != nil {
			return err
		}

		nc := node.ChannelConfig{
			ID:                 ch.ID,
			Name:               ch.Name,
			Role:               role,
			MaxWideN:           ch.MaxWideN,
			AppendDigiCallsign: ch.AppendDigiCallsign,
			MyCall:             myCall,
			DigiCallsigns:      digis,
		}
		if err := mgr.AddChannel(ctx, nc, adapter); err != nil {
			return fmt.Errorf("channel %q: %w", ch.ID, err)
		}
	}
	return nil
}

func newAdapter(ch config.ChannelConfig) (channel.Adapter, error) {
	switch ch.Adapter {
	case "tcp-kiss":
		return channel.NewTCPKISS(ch.Address, nil), nil
	case "serial-kiss":
		return channel.NewSerial(ch.Address, ch.Baud, nil), nil
	case "agw":
		return channel.NewAGW(ch.Address, uint32(ch.AGWPort), nil), nil
	case "mock", "":
		return channel.NewMock(), nil
	default:
		return nil, fmt.Errorf("channel %q: unknown adapter %q", ch.ID, ch.Adapter)
	}
}

// wireSessions builds the session engine and, on top of it, a
// per-(channel, remote station) bbs.Session that lives for exactly as
// long as its AX.25 connection does.
func wireSessions(logger *log.Logger, cfg config.Config, nodeMgr *node.Manager, bbsStore *bbs.Store, bbsUsers *bbs.UserDirectory) *session.Manager {
	sessCfg := session.Config{
		InactivityTimeout: cfg.Session.InactivityTimeout(),
		AckDeferWindow:    cfg.Session.AckDeferWindow(),
	}

	var mgr *session.Manager
	var mu sync.Mutex
	bbsSessions := make(map[session.Key]*bbs.Session)

	sendFrame := func(channelID string, frame ax25.Frame) {
		raw, err := ax25.Build(frame)
		if err != nil {
			logger.Warn("failed to encode outbound session frame", "channel", channelID, "err", err)
			return
		}
		nodeMgr.SendFrame(channelID, raw)
	}

	h := session.Handlers{
		SendFrame: sendFrame,
		OnConnect: func(key session.Key) {
			if !cfg.BBS.Enabled {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if _, ok := bbsSessions[key]; ok {
				return
			}
			bs := bbs.NewSession(bbsStore, key.RemoteBase, func(text string) {
				mgr.Send(key, []byte(text+"\r"), false)
			})
			bs.SetHangup(func() { mgr.Disconnect(key) })
			bs.SetDirectory(bbsUsers)
			bs.SetSystemCall(cfg.BBS.Call)
			bbsSessions[key] = bs
			bs.Greet()
		},
		OnDisconnect: func(key session.Key) {
			mu.Lock()
			delete(bbsSessions, key)
			mu.Unlock()
		},
		OnData: func(key session.Key, payload []byte) {
			mu.Lock()
			bs, ok := bbsSessions[key]
			mu.Unlock()
			if !ok {
				return
			}
			for _, line := range strings.Split(string(payload), "\r") {
				if line == "" {
					continue
				}
				bs.Handle(line)
			}
		},
	}

	mgr = session.NewManager(logger, sessCfg, h)
	return mgr
}

// aprsBBS serves the BBS to connectionless stations: an APRS message
// addressed to the BBS callsign inside a UI frame is treated as one
// command line, and every reply goes back as an APRS message on the
// originating channel. Acks are sent for messages carrying an ID.
type aprsBBS struct {
	mu      sync.Mutex
	nodeMgr *node.Manager
	store   *bbs.Store
	cfg     config.BBSConfig
	myCalls map[string]callsign.Callsign

	sessions map[session.Key]*bbs.Session
}

func newAPRSBBS(nodeMgr *node.Manager, store *bbs.Store, cfg config.BBSConfig, myCalls map[string]callsign.Callsign) *aprsBBS {
	return &aprsBBS{
		nodeMgr:  nodeMgr,
		store:    store,
		cfg:      cfg,
		myCalls:  myCalls,
		sessions: make(map[session.Key]*bbs.Session),
	}
}

func (b *aprsBBS) observe(e node.FrameEvent) {
	if !b.cfg.Enabled || b.cfg.Call == "" {
		return
	}
	if e.Parsed.Control.Kind != ax25.KindU || e.Parsed.Control.UT != ax25.UUI {
		return
	}
	msg, err := aprs.ParseMessage(e.Parsed.Payload)
	if err != nil || msg.IsAck {
		return
	}
	if !strings.EqualFold(msg.Addressee, b.cfg.Call) {
		return
	}
	myCall, ok := b.myCalls[e.Channel]
	if !ok {
		return
	}
	src := e.Parsed.Src.Call

	if msg.ID != "" {
		b.nodeMgr.SendAPRSMessage(node.APRSMessageParams{
			From:    myCall,
			To:      src,
			Payload: aprs.EncodeAck(src.String(), msg.ID),
			Channel: e.Channel,
		})
	}

	key := session.Key{ChannelID: e.Channel, RemoteBase: src.Base}
	b.mu.Lock()
	sess, ok := b.sessions[key]
	if !ok {
		sess = bbs.NewSession(b.store, src.Base, func(text string) {
			b.nodeMgr.SendAPRSMessage(node.APRSMessageParams{
				From:    myCall,
				To:      src,
				Payload: aprs.EncodeMessage(src.String(), text, ""),
				Channel: e.Channel,
			})
		})
		b.sessions[key] = sess
	}
	b.mu.Unlock()

	sess.Handle(strings.TrimSpace(msg.Text))
}

// weatherRepeater is the wiring between the pure weather package
// and the node's frame plane: it rebroadcasts externally-heard SAME
// bulletins once within the echo-suppression window, and can originate
// a locally-sourced alert across the configured channels.
type weatherRepeater struct {
	logger  *log.Logger
	nodeMgr *node.Manager
	cfg     config.WeatherConfig
	myCalls map[string]callsign.Callsign
	guard   *weather.EchoGuard
	allwx   callsign.Callsign
}

func newWeatherRepeater(logger *log.Logger, nodeMgr *node.Manager, cfg config.Config, myCalls map[string]callsign.Callsign) *weatherRepeater {
	allwx, err := callsign.Parse("ALLWX")
	if err != nil {
		allwx = callsign.Callsign{Base: "ALLWX"}
	}
	return &weatherRepeater{
		logger:  logger,
		nodeMgr: nodeMgr,
		cfg:     cfg.Weather,
		myCalls: myCalls,
		guard:   weather.NewEchoGuard(),
		allwx:   allwx,
	}
}

// observe inspects an inbound UI frame for an external SAME bulletin
// whose codes intersect the configured set, and if so rebroadcasts it
// once (per EchoSuppressTTL) across the configured digipeat channels.
func (w *weatherRepeater) observe(e node.FrameEvent) {
	if !w.cfg.Enabled || e.Parsed.Control.Kind != ax25.KindU || e.Parsed.Control.UT != ax25.UUI {
		return
	}
	codes := weather.ExtractSAMECodes(string(e.Parsed.Payload))
	if len(codes) == 0 || !weather.Intersects(codes, w.cfg.SAMECodes) {
		return
	}
	if !w.guard.ShouldRebroadcast(e.Parsed.Payload, e.Ts) {
		return
	}
	for _, chID := range w.cfg.DigipeatChannels {
		myCall, ok := w.myCalls[chID]
		if !ok {
			continue
		}
		w.nodeMgr.SendAPRSMessage(node.APRSMessageParams{
			From:    myCall,
			To:      w.allwx,
			Payload: e.Parsed.Payload,
			Channel: chID,
		})
	}
}

// broadcastAlert renders a into bulletin frames and sends each
// one out every configured digipeat channel.
func (w *weatherRepeater) broadcastAlert(a weather.Alert) {
	if !w.cfg.Enabled {
		return
	}
	for _, b := range weather.BuildBulletins(a) {
		n, ident := splitBulletinTag(b.Tag)
		payload := aprs.EncodeBulletin(n, ident, b.Text)
		for _, chID := range w.cfg.DigipeatChannels {
			myCall, ok := w.myCalls[chID]
			if !ok {
				continue
			}
			w.nodeMgr.SendAPRSMessage(node.APRSMessageParams{
				From:    myCall,
				To:      w.allwx,
				Payload: payload,
				Channel: chID,
			})
		}
	}
}

// purge sweeps the echo guard's expired entries; wired as a periodic
// background task.
func (w *weatherRepeater) purge(now time.Time) {
	w.guard.Purge(now)
}

// splitBulletinTag recovers the BLN digit and identifier portion of a
// weather.SelectTag result (e.g. "BLN2TOR" -> 2, "TOR") for
// aprs.EncodeBulletin.
func splitBulletinTag(tag string) (int, string) {
	if len(tag) < 4 || !strings.HasPrefix(tag, "BLN") {
		return 1, "WX"
	}
	n := int(tag[3] - '0')
	return n, tag[4:]
}

// wireChatSync builds the chat manager and, when chat is enabled, the
// sync engine republishing local messages over the mesh. With chat
// disabled the manager still exists (other components may log through
// it) but nothing reaches the mesh and the engine is nil.
func wireChatSync(transport mesh.Transport, cfg config.ChatConfig) (*chat.Manager, *chatsync.Engine) {
	serverID := fmt.Sprintf("node-%d", os.Getpid())

	if !cfg.Enabled {
		return chat.NewManager(nil), nil
	}

	var engine *chatsync.Engine
	chatMgr := chat.NewManager(func(e chat.Event) {
		if e.Kind == chat.EventMessageSent {
			_ = engine.Publish(e.Room, e.Message)
		}
	})
	if cfg.RateLimit > 0 {
		chatMgr.SetRateLimit(cfg.RateLimit)
	}
	if cfg.MaxHistory > 0 {
		chatMgr.SetMaxHistory(cfg.MaxHistory)
	}
	engine = chatsync.NewEngine(serverID, transport, func(room string, msg chat.Message, synced bool) {
		chatMgr.DeliverSynced(room, msg)
	})
	return chatMgr, engine
}

func wireScheduler(logger *log.Logger, nodeMgr *node.Manager, bbsStore *bbs.Store, alert *alerter.Alerter, chatEngine *chatsync.Engine, chatMgr *chat.Manager, weatherRepeater *weatherRepeater, cfg config.Config) *tasks.Scheduler {
	watcher := tasks.NewThresholdWatcher(cfg.Metrics.Thresholds, func(a tasks.MetricAlert) {
		logger.Warn("metric threshold exceeded", "channel", a.Channel, "name", a.Name, "value", a.Value)
	})

	list := []tasks.Task{
		{
			Name:     "dedup-gc",
			Interval: tasks.DefaultDedupGCInterval,
			Run:      func(now time.Time) { nodeMgr.CleanupSeen(now) },
		},
		{
			Name:     "bbs-gc",
			Interval: tasks.DefaultAlerterInterval,
			Run:      func(now time.Time) { bbsStore.GC(now) },
		},
		{
			Name:     "alerter-housekeeping",
			Interval: tasks.DefaultAlerterInterval,
			Run: func(now time.Time) {
				for recipient, unread := range bbsStore.UnreadSummary() {
					alert.ObserveFrame(recipient, unread, now)
				}
			},
		},
		{
			Name:     "weather-echo-gc",
			Interval: tasks.DefaultDedupGCInterval,
			Run:      weatherRepeater.purge,
		},
		{
			Name:     "metrics-sample",
			Interval: cfg.Metrics.MetricsCheckInterval(),
			Run: func(now time.Time) {
				for _, ch := range nodeMgr.ListChannels() {
					snap := nodeMgr.GetMetrics(ch.ID)
					watcher.Sample(tasks.MetricSample{Channel: ch.ID, Name: "servicedWideBlocked", Value: snap.ServicedWideBlocked})
					watcher.Sample(tasks.MetricSample{Channel: ch.ID, Name: "maxWideBlocked", Value: snap.MaxWideBlocked})
				}
			},
		},
	}

	if chatEngine != nil {
		list = append(list,
			tasks.Task{
				Name:     "chatsync-gc",
				Interval: tasks.DefaultDedupGCInterval,
				Run:      func(now time.Time) { chatEngine.PurgeSeen(now) },
			},
			tasks.Task{
				Name:     "chatsync-periodic",
				Interval: chatsync.DefaultPeriodicInterval,
				Run: func(now time.Time) {
					chatEngine.RunPeriodicSync(chatMgr.ListRooms(), func(room string, since time.Time, limit int) []chat.Message {
						hist := chatMgr.GetRoomHistory(room, limit)
						var fresh []chat.Message
						for _, m := range hist {
							if m.Timestamp.After(since) {
								fresh = append(fresh, m)
							}
						}
						return fresh
					}, now)
				},
			},
		)
	}

	return tasks.New(logger, list...)
}
