package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// TxnRunner wraps multi-document writes in a causally consistent transaction.
// Services compose repository calls inside fn; every repository method runs
// against the session context it receives.
type TxnRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type sessionRunner struct {
	client *mongo.Client
}

func NewTxnRunner(client *mongo.Client) TxnRunner {
	return &sessionRunner{client: client}
}

func (r *sessionRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// PassthroughTxnRunner executes fn without a session. Used by tests and
// against standalone Mongo deployments that lack replica-set transactions.
type PassthroughTxnRunner struct{}

func (PassthroughTxnRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
