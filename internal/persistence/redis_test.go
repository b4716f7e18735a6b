package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/echannelling-auth/internal/config"
)

func TestNewRedisReportsConnectivity(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	r := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zap.New(core))
	defer r.Close()

	if logs.FilterMessage("connected to redis").Len() != 1 {
		t.Fatal("expected connect log")
	}
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	mr.Close()
	if err := r.Ping(context.Background()); err == nil {
		t.Fatal("Ping should fail once redis is gone")
	}
}

func TestNilStoresAreNotReady(t *testing.T) {
	var r *Redis
	if err := r.Ping(context.Background()); err == nil {
		t.Fatal("nil redis should not be ready")
	}
	var p *Postgres
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("nil postgres should not be ready")
	}
	if p.PoolHandle() != nil {
		t.Fatal("nil postgres has no pool")
	}
}
