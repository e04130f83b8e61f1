package redis_test

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis"
	"github.com/redis/go-redis/v9"

	redissource "github.com/olivere/jobloop/redis"
)

func ExampleNewSource() {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	ctx := context.Background()
	src := redissource.NewSource(client)
	if err := src.Push(ctx, "5", "7"); err != nil {
		panic(err)
	}
	for {
		id, err := src.Next(ctx)
		if err != nil {
			fmt.Println(err)
			break
		}
		fmt.Println(id)
	}
	// Output:
	// 5
	// 7
	// jobloop: source exhausted
}
