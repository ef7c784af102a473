// Package pool
// Author: momentics <momentics@gmail.com>
//
// Size-bucketed, reference-counted buffer pooling for the message pipeline.
// Bucket sizes are spread over a logarithmic scale between the smallest and
// largest configured sizes so that small messages get tightly fitting buffers.
// Buffers are never freed individually; the final Release puts them back on
// the free list of the bucket that created them.
package pool
