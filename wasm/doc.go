// Package wasm reads and writes just enough of the WebAssembly core binary format
// for the kernel.
//
// Scan walks an image's section framing and collects what the loader validates
// before the engine ever sees the bytes: imports with their kinds, declared memory
// limits, exports and custom sections. It does not decode function bodies; the
// embedded engine performs full validation at compile time.
//
//	info, err := wasm.Scan(data)
//	if err != nil {
//	    // framing is broken: the image is malformed
//	}
//	for _, imp := range info.Imports {
//	    fmt.Println(imp.Module, imp.Name, imp.Kind)
//	}
//
// Builder assembles small modules. Tests use it to author guests inline and the
// hosted executable uses it for its demo images:
//
//	b := wasm.NewBuilder()
//	now := b.Import("kernel", "timer-now", []wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI64})
//	b.Memory(1, 1)
//	b.Func("run", nil, nil, nil, wasm.NewCode().I32Const(0).Call(now).Drop().End())
//	b.Custom("kernel.manifest", []byte("timer read\n"))
//	data := b.Bytes()
package wasm
