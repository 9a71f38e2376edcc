// Transfer moves a single file between an urft client and server. The client
// reads the whole file into fixed size chunks and hands them to an arq
// sender; the server binds a UDP port, runs an arq receiver and writes the
// file under its output directory using only the base name the client sent.
// Each side tags its log lines with a random transfer id so concurrent runs
// can be told apart.
package transfer
