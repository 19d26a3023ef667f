// Package loader turns module images into instances.
//
// Load validates an image in a fixed order and stops at the first failing
// step:
//
//  1. structure (magic, version, section framing)  -> Malformed
//  2. manifest (embedded section or sidecar)        -> Malformed
//  3. imports against the syscall ABI               -> SignatureMismatch
//  4. the "run" entry point                         -> SignatureMismatch
//  5. memory ceiling, instance slots, page budget   -> ResourceExhausted
//  6. engine compilation                            -> Malformed
//  7. capability grants in manifest order           -> ResourceExhausted
//  8. instantiation with fresh memory
//
// A failed load leaves nothing behind: granted capabilities are released
// and no slot or pages stay reserved.
package loader
