package natsx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/planboard/infra/logger"
)

type fakeConn struct {
	got    *nats.Msg
	reply  *nats.Msg
	err    error
	closed bool
}

func (f *fakeConn) RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error) {
	f.got = msg
	if f.err != nil {
		return nil, f.err
	}
	if f.reply == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.reply, nil
}

func (f *fakeConn) Close() { f.closed = true }

func reply(code string, body string) *nats.Msg {
	m := nats.NewMsg("_INBOX.x")
	m.Data = []byte(body)
	if code != "" {
		m.Header.Set(CodeHeader, code)
	}
	return m
}

func TestDeliverMapsReplyCode(t *testing.T) {
	fc := &fakeConn{reply: reply("400", "bad")}
	tr := newTransport(fc, Config{SubjectPrefix: "pb."}, logger.NopLogger{})

	resp, err := tr.Deliver(context.Background(), "agr.example.com", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.Code)
	assert.Equal(t, "bad", string(resp.Body))
	assert.Equal(t, "pb.agr_example_com.inbox", fc.got.Subject)
	assert.Equal(t, "hello", string(fc.got.Data))
}

func TestDeliverWithoutHeaderIsOK(t *testing.T) {
	tr := newTransport(&fakeConn{reply: reply("", "")}, Config{}, logger.NopLogger{})
	resp, err := tr.Deliver(context.Background(), "d", nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "planboard.d.inbox", tr.Subject("d"))
}

func TestDeliverBadHeader(t *testing.T) {
	tr := newTransport(&fakeConn{reply: reply("abc", "")}, Config{}, logger.NopLogger{})
	_, err := tr.Deliver(context.Background(), "d", nil)
	assert.Error(t, err)
}

func TestDeliverErrors(t *testing.T) {
	tr := newTransport(&fakeConn{err: nats.ErrNoResponders}, Config{}, logger.NopLogger{})
	_, err := tr.Deliver(context.Background(), "d", nil)
	assert.True(t, errors.Is(err, nats.ErrNoResponders))

	tr = newTransport(&fakeConn{}, Config{RequestTimeout: 10 * time.Millisecond}, logger.NopLogger{})
	_, err = tr.Deliver(context.Background(), "d", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewUsesConnector(t *testing.T) {
	fc := &fakeConn{}
	var url string
	var nopts int
	connect = func(u string, opts ...nats.Option) (requester, error) {
		url, nopts = u, len(opts)
		return fc, nil
	}
	t.Cleanup(func() {
		connect = func(u string, opts ...nats.Option) (requester, error) { return nats.Connect(u, opts...) }
	})
	tr, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, nats.DefaultURL, url)
	assert.Equal(t, 6, nopts)
	tr.Close()
	assert.True(t, fc.closed)
}
