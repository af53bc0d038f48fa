// Package cloudcall provides the types shared by the call engine and the
// provider clients built on it.
//
// # Overview
//
// A remote call is described once as an OperationDescriptor: method, path
// template, parameter roles, filters, exception mappers, unwrap depth and
// result shape. Descriptors are plain data, usually loaded from a YAML table
// into a Catalog. Invoking a descriptor with Args returns a Future that
// resolves with exactly one *Result or one *Error.
//
//	import (
//	  "context"
//	  "log"
//	  "time"
//
//	  "github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
//	  "github.com/fivetwenty-io/cloudcall/pkg/cloudclient"
//	)
//
//	func example(ctx context.Context, cat *cloudcall.Catalog) {
//	  cfg := cloudcall.DefaultConfig()
//	  cfg.Endpoint = "https://cloud.example.com/client/api"
//	  cli, err := cloudclient.New(ctx, cfg)
//	  if err != nil { log.Fatal(err) }
//	  defer cli.Close()
//
//	  fut := cli.Invoke(ctx, cat.MustGet("listVirtualMachines"), cloudcall.NewArgs())
//	  res, err := fut.Await(30 * time.Second)
//	  if err != nil { log.Fatal(err) }
//	  for _, vm := range res.Items() { _ = vm }
//	}
//
// # Errors
//
// Every failure is an *Error carrying an ErrorKind. Use errors.Is with the
// sentinel kinds or the IsNotFound style helpers:
//
//	if cloudcall.IsNotFound(err) { ... }
//	var e *cloudcall.Error
//	if errors.As(err, &e) && e.Kind == cloudcall.KindRateLimited { wait(e.RetryAfter) }
//
// # Asynchronous jobs
//
// Descriptors with ShapeJob return a JobHandle. With auto tracking enabled
// the engine polls the descriptor's StatusCheck operation until the job is
// terminal and resolves the original future with the job's payload.
//
// # Cancellation
//
// Future.Cancel aborts a pending call. A cancelled call never has its
// response interpreted and resolves with KindCancelled. Future.Await with a
// timeout resolves with KindTimeout when the timeout elapses first.
package cloudcall
