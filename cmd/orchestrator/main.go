package main

import (
	"log"

	"github.com/redis/go-redis/v9"

	"newstrade/internal/api"
	"newstrade/internal/bus"
	"newstrade/internal/replay"
	"newstrade/pkg/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("orchestrator starting. env=%s port=%s", cfg.Env, cfg.Port)

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	redisBus := bus.NewRedisBusFromClient(client)
	engine := replay.NewEngine(redisBus, replay.NewRedisStore(client))
	server := api.NewServer(api.NewRedisControl(client), redisBus, engine, cfg.Env)

	if err := server.Start(":" + cfg.Port); err != nil {
		log.Fatalf("http server stopped: %v", err)
	}
}
