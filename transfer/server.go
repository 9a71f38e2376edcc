package transfer

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/jellybean4/urft/arq"
)

// Server receives a single file on a bound UDP port into a directory.
type Server struct {
	trans *arq.UDPTransport `desc:"bound socket senders write to"`
	recv  *arq.Receiver     `desc:"protocol state machine"`
	dest  string            `desc:"directory received files land in"`
	log   *logrus.Entry
}

// Listen binds laddr and prepares to receive into dest. Binding fails fast
// so callers learn about a busy port before any peer shows up.
func Listen(laddr string, dest string, conf arq.Config, opts ...arq.Option) (*Server, error) {
	conf, log := session(conf)
	trans, err := arq.ListenUDP(laddr, opts...)
	if err != nil {
		log.Errorf("server listen %s failed %s", laddr, err.Error())
		return nil, err
	}
	recv, err := arq.NewReceiver(trans, DirSink{Dir: dest}, conf)
	if err != nil {
		trans.Close()
		return nil, err
	}
	log.Infof("server listening on %s, saving to %s", trans.LocalAddr(), dest)
	return &Server{trans: trans, recv: recv, dest: dest, log: log}, nil
}

func (s *Server) Addr() net.Addr {
	return s.trans.LocalAddr()
}

func (s *Server) Stats() *arq.ReceiverStats {
	return s.recv.Stats()
}

// Run serves one transfer to completion and closes the socket.
func (s *Server) Run(ctx context.Context) (arq.Result, error) {
	defer s.trans.Close()
	rslt, err := s.recv.Run(ctx)
	if err != nil {
		s.log.Errorf("server receive failed %s", err.Error())
		return rslt, err
	}
	s.log.WithFields(logrus.Fields{
		"peer":  rslt.Peer.String(),
		"bytes": rslt.Bytes,
	}).Infof("server file %s saved to %s", rslt.Name, s.dest)
	return rslt, nil
}

func (s *Server) Close() error {
	return s.trans.Close()
}

// Serve receives exactly one file on laddr into dest.
func Serve(ctx context.Context, laddr string, dest string, conf arq.Config, opts ...arq.Option) (arq.Result, error) {
	server, err := Listen(laddr, dest, conf, opts...)
	if err != nil {
		return arq.Result{}, err
	}
	return server.Run(ctx)
}
