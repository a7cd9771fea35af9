package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"folio/internal/cachestore"
	"folio/internal/daemon"
	"folio/internal/executor"
	"folio/internal/logging"
)

// ServiceName prefixes every RPC method.
const ServiceName = "Folio"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.SessionID = status.SessionID
	resp.StartedAt = status.StartedAt
	resp.WorkerState = status.WorkerState
	resp.WorkerSpawns = status.WorkerSpawns
	resp.TasksInFlight = status.TasksInFlight
	resp.LoadedModules = append([]string(nil), status.LoadedModules...)
	resp.CacheControlling = status.CacheControlling
	resp.StaticGeneration = status.StaticGeneration
	resp.DynamicGeneration = status.DynamicGeneration
	resp.CacheDBPath = status.CacheDBPath
	resp.LockPath = status.LockFilePath
	resp.APIAddr = s.daemon.APIAddr()
	resp.Generations = s.convertGenerations(status.Generations, status.StaticGeneration, status.DynamicGeneration)
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return nil
}

func (s *service) Execute(req ExecuteRequest, resp *ExecuteResponse) error {
	ctx := s.ctx
	if req.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}
	result, err := s.daemon.Execute(ctx, req.Kind, req.Payload)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = executeCode(err)
		return nil
	}
	resp.Result = result
	return nil
}

func executeCode(err error) string {
	switch {
	case errors.Is(err, executor.ErrTaskFailure):
		return CodeTaskFailure
	case errors.Is(err, executor.ErrChannelUnavailable):
		return CodeUnavailable
	case errors.Is(err, executor.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, executor.ErrChannelClosed), errors.Is(err, context.Canceled):
		return CodeClosed
	default:
		return CodeInternal
	}
}

func (s *service) Generations(_ GenerationsRequest, resp *GenerationsResponse) error {
	gens, err := s.daemon.Generations(s.ctx)
	if err != nil {
		return err
	}
	static, dynamic := s.daemon.Intermediary().Generations()
	resp.Generations = s.convertGenerations(gens, static, dynamic)
	return nil
}

func (s *service) Activate(_ ActivateRequest, resp *ActivateResponse) error {
	deleted, err := s.daemon.Activate(s.ctx)
	if err != nil {
		return err
	}
	resp.Deleted = append([]string{}, deleted...)
	s.logger.Info("cache activated via IPC",
		logging.String(logging.FieldEventType, "cache_activate"),
		logging.Int("deleted_count", len(deleted)))
	return nil
}

func (s *service) TerminateWorker(_ TerminateWorkerRequest, resp *TerminateWorkerResponse) error {
	if err := s.daemon.TerminateWorker(); err != nil {
		return err
	}
	resp.State = s.daemon.Status(s.ctx).WorkerState
	return nil
}

func (s *service) Preload(_ PreloadRequest, resp *PreloadResponse) error {
	s.daemon.Preload()
	resp.Scheduled = true
	return nil
}

func (*service) convertGenerations(gens []cachestore.Generation, static, dynamic string) []Generation {
	out := make([]Generation, 0, len(gens))
	for _, g := range gens {
		out = append(out, Generation{
			Name:      g.Name,
			Entries:   g.Entries,
			Bytes:     g.Bytes,
			CreatedAt: g.CreatedAt,
			Current:   g.Name == static || g.Name == dynamic,
		})
	}
	return out
}
