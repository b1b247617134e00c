//go:build linux || darwin

package ioselector_test

import (
	"context"
	"fmt"

	"github.com/joeycumines/go-ioselector"
	"golang.org/x/sys/unix"
)

func Example() {
	sel, err := ioselector.New()
	if err != nil {
		panic(err)
	}
	go sel.Run(context.Background())
	defer sel.Close()

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		panic(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	done := make(chan ioselector.Completion, 1)
	if err := sel.Submit(ioselector.Handle(p[0]), ioselector.OpRead, func(c ioselector.Completion) {
		done <- c
	}); err != nil {
		panic(err)
	}

	if _, err := unix.Write(p[1], []byte("ping")); err != nil {
		panic(err)
	}

	c := <-done
	fmt.Println(c.Outcome, c.Interest, c.Err)

	// Output:
	// Ready read <nil>
}

func ExampleSelector_Cancel() {
	sel, err := ioselector.New()
	if err != nil {
		panic(err)
	}
	go sel.Run(context.Background())
	defer sel.Close()

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		panic(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	done := make(chan ioselector.Completion, 1)
	_ = sel.Submit(ioselector.Handle(p[0]), ioselector.OpRead, func(c ioselector.Completion) {
		done <- c
	})
	_ = sel.Cancel(ioselector.Handle(p[0]))

	c := <-done
	fmt.Println(c.Outcome, c.Err)

	// Output:
	// Disposed ioselector: job disposed
}
