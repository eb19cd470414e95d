// Package interceptor propagates causez metadata across gRPC calls.
//
// The metadata bytes travel in the binary header MetadataKey. Servers seed a
// Cell for each call from the incoming header; clients copy the caller's Cell
// into the outgoing header.
package interceptor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/zoobzio/causez"
)

// MetadataKey is the gRPC header carrying encoded causal metadata.
// The -bin suffix makes gRPC base64 the value on the wire.
const MetadataKey = "causez-bin"

// UnaryServerInterceptor joins the metadata sent by the client into the Cell
// of the handler context, creating one named after the method if needed.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(serverContext(ctx, info.FullMethod), req)
	}
}

// StreamServerInterceptor is the streaming form of UnaryServerInterceptor.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: serverContext(ss.Context(), info.FullMethod)})
	}
}

// UnaryClientInterceptor sends the metadata of the caller's Cell.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(clientContext(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming form of UnaryClientInterceptor.
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(clientContext(ctx), desc, cc, method, opts...)
	}
}

func serverContext(ctx context.Context, method string) context.Context {
	cell := causez.CellFrom(ctx)
	if cell == nil {
		ctx, cell = causez.NewContext(ctx, method)
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	for _, v := range md.Get(MetadataKey) {
		cell.JoinBytes([]byte(v))
	}
	return ctx
}

func clientContext(ctx context.Context) context.Context {
	cell := causez.CellFrom(ctx)
	if cell == nil {
		return ctx
	}
	data := cell.Bytes()
	if data == nil {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, MetadataKey, string(data))
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
