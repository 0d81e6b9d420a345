// Package render compiles canonical instance specs into a Vagrantfile.
//
// Rendering is a pipeline: Plan turns specs into an ordered list of
// Directives, Emit turns directives into text. Value formatting lives in
// FormatValue and FormatArgs, which are pure. Render output depends only on
// its arguments, so re-rendering unchanged input is byte-identical.
//
// Writer writes the Vagrantfile and the vagrant.yml side channel into the
// working directory, replacing both on every run.
package render
