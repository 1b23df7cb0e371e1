// Command poold runs a TCP-backed handle pool with its management surface,
// wired entirely from the environment. It exists to exercise the pool
// against a real backend:
//
//	POOL_TARGET=127.0.0.1:5432 POOL_MINIMUM_IDLE=5 poold
package main

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/superfly/sessionpool/mgmt"
	"github.com/superfly/sessionpool/pool"
	"github.com/superfly/sessionpool/stats"
	"github.com/superfly/sessionpool/tcpdial"
)

func main() {
	log := logrus.StandardLogger()
	log.Printf("starting poold")

	target := os.Getenv("POOL_TARGET")
	if target == "" {
		log.Fatalf("need: POOL_TARGET (host:port to pool connections to)")
	}

	mgmtPort := 8090
	if s := os.Getenv("POOL_MGMT_PORT"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			log.Fatalf("POOL_MGMT_PORT: %v", err)
		}
		mgmtPort = p
	}

	cfg, err := pool.FromEnv()
	if err != nil {
		log.Fatalf("pool.FromEnv: %v", err)
	}

	log.Printf("starting pool for %s", target)
	factory := tcpdial.New("tcp", target, tcpdial.DialTimeout(5*time.Second), tcpdial.Logger(log))
	recorder := stats.NewRecorder()

	p, err := pool.New[net.Conn](factory, cfg,
		pool.WithLogger(log), pool.WithRecorder(recorder))
	if err != nil {
		log.Fatalf("pool.New: %v", err)
	}
	defer p.Shutdown() //nolint:errcheck

	log.Printf("serving management api on :%d", mgmtPort)
	srv := mgmt.New(p, mgmtPort, mgmt.Recorder(recorder), mgmt.Logger(log))
	if err := srv.Run(time.Second); err != nil {
		log.Fatalf("mgmt server: %v", err)
	}
}
