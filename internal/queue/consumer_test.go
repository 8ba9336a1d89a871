package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecoledger/marketplace/internal/authenticator"
	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
)

type fakeBlobGetter struct {
	err error
}

func (f *fakeBlobGetter) Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error) {
	if f.err != nil {
		return nil, 0, "", f.err
	}
	return io.NopCloser(strings.NewReader("%PDF")), 4, "application/pdf", nil
}

type fakeVerifier struct {
	res *authenticator.Result
	err error
}

func (f *fakeVerifier) Authenticate(ctx context.Context, filename string, r io.Reader) (*authenticator.Result, error) {
	return f.res, f.err
}

type updateCall struct {
	serial string
	status string
}

type fakeCreditStore struct {
	credit     model.Credit
	getErr     error
	updateRows int64
	updateErr  error
	updates    []updateCall
}

func (f *fakeCreditStore) GetBySerial(ctx context.Context, serial string) (model.Credit, error) {
	if f.getErr != nil {
		return model.Credit{}, f.getErr
	}
	return f.credit, nil
}

func (f *fakeCreditStore) UpdateStatusFromPending(ctx context.Context, serial, status string, verification []byte) (int64, error) {
	f.updates = append(f.updates, updateCall{serial: serial, status: status})
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	return f.updateRows, nil
}

func eventBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(CreditVerifyEvent{
		SerialNumber: "S-1",
		BlobKey:      "20260901-abc",
		Filename:     "cert.pdf",
		OwnerID:      7,
	})
	require.NoError(t, err)
	return b
}

func newConsumer(blobs *fakeBlobGetter, auth *fakeVerifier, credits *fakeCreditStore) *VerifyConsumer {
	return &VerifyConsumer{Blobs: blobs, Auth: auth, Credits: credits}
}

func TestHandle_SettlesAuthenticated(t *testing.T) {
	credits := &fakeCreditStore{
		credit:     model.Credit{SerialNumber: "S-1", Status: model.CreditStatusPending},
		updateRows: 1,
	}
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{res: &authenticator.Result{Authenticated: true}}, credits)

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.NoError(t, err)
	require.False(t, requeue)
	require.Equal(t, []updateCall{{serial: "S-1", status: model.CreditStatusAuthenticated}}, credits.updates)
}

func TestHandle_SettlesUnauthenticated(t *testing.T) {
	credits := &fakeCreditStore{
		credit:     model.Credit{SerialNumber: "S-1", Status: model.CreditStatusPending},
		updateRows: 1,
	}
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{res: &authenticator.Result{Authenticated: false}}, credits)

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.NoError(t, err)
	require.False(t, requeue)
	require.Equal(t, model.CreditStatusUnauthenticated, credits.updates[0].status)
}

func TestHandle_MalformedBodyIsDropped(t *testing.T) {
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{}, &fakeCreditStore{})

	requeue, err := vc.Handle(context.Background(), []byte("not json"))
	require.Error(t, err)
	require.False(t, requeue)
}

func TestHandle_IncompleteEventIsDropped(t *testing.T) {
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{}, &fakeCreditStore{})

	requeue, err := vc.Handle(context.Background(), []byte(`{"serial_number":"S-1"}`))
	require.Error(t, err)
	require.False(t, requeue)
}

func TestHandle_VanishedCreditIsDropped(t *testing.T) {
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{}, &fakeCreditStore{getErr: repository.ErrNotFound})

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.Error(t, err)
	require.False(t, requeue)
}

// Redelivery after a prior success must ack without calling the
// authenticator again.
func TestHandle_AlreadySettledIsNoOp(t *testing.T) {
	credits := &fakeCreditStore{
		credit: model.Credit{SerialNumber: "S-1", Status: model.CreditStatusAuthenticated},
	}
	auth := &fakeVerifier{err: errors.New("must not be called")}
	vc := newConsumer(&fakeBlobGetter{}, auth, credits)

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.NoError(t, err)
	require.False(t, requeue)
	require.Empty(t, credits.updates)
}

func TestHandle_BlobFetchFailureRequeues(t *testing.T) {
	credits := &fakeCreditStore{credit: model.Credit{SerialNumber: "S-1", Status: model.CreditStatusPending}}
	vc := newConsumer(&fakeBlobGetter{err: errors.New("connection reset")}, &fakeVerifier{}, credits)

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.Error(t, err)
	require.True(t, requeue)
}

func TestHandle_AuthenticatorDownRequeues(t *testing.T) {
	credits := &fakeCreditStore{credit: model.Credit{SerialNumber: "S-1", Status: model.CreditStatusPending}}
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{err: authenticator.ErrUnavailable}, credits)

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.Error(t, err)
	require.True(t, requeue)
	require.Empty(t, credits.updates)
}

func TestHandle_RaceToSettleIsNoOp(t *testing.T) {
	credits := &fakeCreditStore{
		credit:     model.Credit{SerialNumber: "S-1", Status: model.CreditStatusPending},
		updateRows: 0,
	}
	vc := newConsumer(&fakeBlobGetter{}, &fakeVerifier{res: &authenticator.Result{Authenticated: true}}, credits)

	requeue, err := vc.Handle(context.Background(), eventBody(t))
	require.NoError(t, err)
	require.False(t, requeue)
}
