// Command ninefs mounts a remote 9P2000.L export over TCP and serves
// metrics about the connection. It exists to exercise a mount end to end;
// host VFS integration plugs into the same OpSet this command uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"

	_ "net/http/pprof" // anonymous import to get the pprof handler registered

	"github.com/antiartificial/ninefs/internal/cmdutil"
	"github.com/antiartificial/ninefs/internal/ninep"
	"github.com/antiartificial/ninefs/internal/ninep/tcp9"
	"github.com/antiartificial/ninefs/internal/p9fs"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		ll         cmdutil.LogLevel
		serverAddr string
		listenAddr string
		aname      string
		msize      uint
		readOnly   bool
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Var(&ll, "log.level", "Level to display logs at")
	fs.StringVar(&serverAddr, "server.addr", "127.0.0.1:564", "address of the 9P server")
	fs.StringVar(&listenAddr, "http.addr", "127.0.0.1:8090", "address to serve metrics and pprof on")
	fs.StringVar(&aname, "mount.aname", "", "subtree to attach to")
	fs.UintVar(&msize, "mount.msize", ninep.DefaultMsize, "maximum 9P message size")
	fs.BoolVar(&readOnly, "mount.read-only", false, "mount the tree read-only")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %s\n", err.Error())
		os.Exit(1)
	}

	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	l = level.NewFilter(l, ll.FilterOption())
	l = log.With(l, "ts", log.DefaultTimestamp, "caller", log.DefaultCaller, "program", "ninefs")

	if err := runMain(l, serverAddr, listenAddr, aname, uint32(msize), readOnly); err != nil {
		level.Error(l).Log("msg", "error during run", "err", err)
		os.Exit(1)
	}
}

func runMain(l log.Logger, serverAddr, listenAddr, aname string, msize uint32, readOnly bool) error {
	transport, err := tcp9.Dial(l, serverAddr, msize)
	if err != nil {
		return err
	}
	defer transport.Close()

	const mountTag = "tcp0"
	registry := ninep.NewRegistry()
	if err := registry.Register(mountTag, transport); err != nil {
		return err
	}
	defer registry.Unregister(mountTag)

	var flags p9fs.MountFlags
	if readOnly {
		flags |= p9fs.MountReadOnly
	}
	vol, err := p9fs.Mount(l, serverAddr, p9fs.Options{
		Registry:   registry,
		Flags:      flags,
		Args:       fmt.Sprintf("tag=%s,aname=%s,msize=%d", mountTag, aname, msize),
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	ops := p9fs.NewOpSet(vol)
	defer func() {
		if err := ops.Unmount(); err != nil {
			level.Warn(l).Log("msg", "unmount failed", "err", err)
		}
	}()

	if err := listRoot(l, vol, ops); err != nil {
		level.Warn(l).Log("msg", "listing the root failed", "err", err)
	}

	var g run.Group

	// Signal handler worker.
	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	// Information server worker.
	{
		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return fmt.Errorf("failed to create listener for HTTP server: %w", err)
		}

		r := mux.NewRouter()
		r.Handle("/metrics", promhttp.Handler())
		r.PathPrefix("/debug/pprof").Handler(http.DefaultServeMux)
		srv := http.Server{Handler: r}

		g.Add(func() error {
			level.Debug(l).Log("msg", "listening for http traffic", "addr", lis.Addr())
			return srv.Serve(lis)
		}, func(error) {
			srv.Close()
		})
	}

	err = g.Run()
	if _, ok := err.(run.SignalError); ok {
		level.Info(l).Log("msg", "received signal, shutting down")
		return nil
	}
	return err
}

// listRoot walks the root directory through the dispatch table and logs the
// entries it finds.
func listRoot(l log.Logger, vol *p9fs.Volume, ops *p9fs.OpSet) error {
	root, ok := ops.GetVnode(vol.RootID())
	if !ok {
		return ninep.ErrNotFound
	}
	dc, err := ops.OpenDir(root)
	if err != nil {
		return err
	}
	defer func() { _ = ops.FreeDirCookie(root, dc) }()

	for {
		buf := make([]byte, 4096)
		n, err := ops.ReadDir(root, dc, buf, 64)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		for _, ent := range p9fs.ParseDirents(buf) {
			level.Info(l).Log("msg", "root entry", "name", ent.Name, "ino", ent.Ino)
		}
	}
}
