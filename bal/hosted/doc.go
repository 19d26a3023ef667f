// Package hosted is the terminal backend.
//
// Frames are drawn by a bubbletea program as half-block cells: each cell
// shows two vertically stacked pixels, the upper one as foreground and the
// lower one as background. Keyboard and mouse messages become bal events.
//
// Present never blocks. While the program is still drawing the previous
// frame, new frames are dropped. Input is buffered in a bounded channel and
// dropped when the kernel falls behind.
//
// In headless mode no program runs; frames are kept for read-back and input
// arrives only through Inject. Headless is chosen automatically when the
// output is not a terminal.
package hosted
