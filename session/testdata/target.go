package main

func foo() int {
	return 42
}

func main() {
	foo()
}
