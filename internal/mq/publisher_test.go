package mq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNilPublisherIsNoop(t *testing.T) {
	p, err := NewPublisher(nil, "exchange", "appliance.sample.accepted", zap.NewNop())
	assert.NoError(t, err)
	assert.Nil(t, p)

	assert.NoError(t, p.PublishSampleAccepted(context.Background(), SampleAcceptedEvent{Kind: "periodic"}))
	assert.NoError(t, p.Close())
}
