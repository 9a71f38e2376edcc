package transfer

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jellybean4/urft/arq"
)

// Client sends one file to a listening server.
type Client struct {
	trans  *arq.UDPTransport `desc:"ephemeral socket the transfer runs on"`
	sender *arq.Sender       `desc:"protocol state machine"`
	name   string            `desc:"path of the file being sent"`
	log    *logrus.Entry
}

// Dial reads name into memory and prepares a sender towards raddr
// ("host:port"). Nothing is sent until Run.
func Dial(name string, raddr string, conf arq.Config, opts ...arq.Option) (*Client, error) {
	conf, log := session(conf)
	var (
		chunks [][]byte
		peer   *net.UDPAddr
		trans  *arq.UDPTransport
		sender *arq.Sender
		err    error
	)
	if chunks, err = ReadChunks(name, conf.ChunkSize); err != nil {
		log.Errorf("client read file %s failed %s", name, err.Error())
		return nil, err
	} else if peer, err = net.ResolveUDPAddr("udp", raddr); err != nil {
		log.Errorf("client resolve server %s failed %s", raddr, err.Error())
		return nil, err
	} else if trans, err = arq.ListenUDP("", opts...); err != nil {
		log.Errorf("client open socket failed %s", err.Error())
		return nil, err
	} else if sender, err = arq.NewSender(trans, peer, filepath.Base(name), chunks, conf); err != nil {
		trans.Close()
		return nil, err
	}
	log.Infof("client sending %s to %s in %d packets", name, peer, len(chunks))
	return &Client{trans: trans, sender: sender, name: name, log: log}, nil
}

func (c *Client) Stats() *arq.SenderStats {
	return c.sender.Stats()
}

func (c *Client) State() arq.State {
	return c.sender.State()
}

// Run performs the transfer and closes the socket.
func (c *Client) Run(ctx context.Context) error {
	defer c.trans.Close()
	start := time.Now()
	if err := c.sender.Run(ctx); err != nil {
		c.log.Errorf("client send %s failed %s", c.name, err.Error())
		return err
	}
	snap := c.Stats().Snapshot()
	c.log.WithFields(logrus.Fields{
		"bytes":       snap.BytesAcked,
		"retransmits": snap.Retransmits,
		"elapsed":     time.Since(start).Round(time.Millisecond).String(),
	}).Infof("client file %s sent", c.name)
	return nil
}

// Close releases the socket of a client that will not be run.
func (c *Client) Close() error {
	return c.trans.Close()
}

// SendFile transfers the file at name to the server at raddr.
func SendFile(ctx context.Context, name string, raddr string, conf arq.Config, opts ...arq.Option) (arq.SenderSnapshot, error) {
	client, err := Dial(name, raddr, conf, opts...)
	if err != nil {
		return arq.SenderSnapshot{}, err
	}
	err = client.Run(ctx)
	return client.Stats().Snapshot(), err
}
