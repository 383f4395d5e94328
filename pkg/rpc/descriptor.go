package rpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoFile is the name the Verifier service descriptor is registered under.
const ProtoFile = "steadystate/v1/verifier.proto"

// File describes steadystate/v1/verifier.proto. It is registered in
// protoregistry.GlobalFiles so that gRPC reflection can describe the service.
var File protoreflect.FileDescriptor

func init() {
	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("steadystate.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Verifier"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("Verify"),
				InputType:  proto.String(structType),
				OutputType: proto.String(structType),
			}},
		}},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/HatiCode/steadystate/pkg/rpc"),
		},
		Syntax: proto.String("proto3"),
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("rpc: build %s descriptor: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("rpc: register %s: %v", ProtoFile, err))
	}
	File = fd
}
