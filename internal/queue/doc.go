/*
Package queue implements the bounded event queue between instrumented code
and the dispatcher.

# Overview

Producers are application goroutines ending segments; they must never
block. Enqueue is a non-blocking channel send. When the queue is full the
configured policy decides what is lost:

- DropNewest (default): the incoming event is discarded
- DropOldest: the oldest queued event is evicted to make room

Every drop is counted per record kind and reported through the agent's
metrics and a throttled warning.

# Consuming

The single consumer calls DequeueBatch, which returns as soon as either
maxItems events are collected, maxWait elapses, Wake is called, or the
context is done. FIFO order is preserved for everything that was accepted.

Capacity is fixed at construction.
*/
package queue
