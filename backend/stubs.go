package backend

import "strings"

// writeStubs emits the runtime support routines every executable
// carries: heap init, the bump allocator, the string ABI helpers, and
// integer printing. All follow the SysV AMD64 calling convention.
//
// String ABI: a heap block of [length:i64][bytes].
func writeStubs(out *strings.Builder) {
	out.WriteString(stubText)
}

const stubText = `
# sys_brk(0) reads the current break; a second brk extends it by
# __heap_size. __heap_current chases allocations.
__init_heap:
	movq $12, %rax
	xorq %rdi, %rdi
	syscall
	movq %rax, __heap_start(%rip)
	movq %rax, __heap_current(%rip)
	movq %rax, %rdi
	addq __heap_size(%rip), %rdi
	movq $12, %rax
	syscall
	ret

# __malloc(size): bump allocator. 8-byte aligns, range-checks against
# the heap end, returns the old pointer or 0 on exhaustion.
__malloc:
	addq $7, %rdi
	andq $-8, %rdi
	movq __heap_current(%rip), %rax
	movq %rax, %rdx
	addq %rdi, %rdx
	movq __heap_start(%rip), %rcx
	addq __heap_size(%rip), %rcx
	cmpq %rcx, %rdx
	ja .Lmalloc_fail
	movq %rdx, __heap_current(%rip)
	ret
.Lmalloc_fail:
	xorq %rax, %rax
	ret

# __string_create(cstr, len): allocate len+8, store the length header,
# copy the bytes.
__string_create:
	pushq %rbx
	pushq %rdi
	pushq %rsi
	leaq 8(%rsi), %rdi
	call __malloc
	popq %rsi
	popq %rdi
	testq %rax, %rax
	jz .Lsc_done
	movq %rsi, (%rax)
	xorq %rcx, %rcx
.Lsc_loop:
	cmpq %rsi, %rcx
	jge .Lsc_done
	movb (%rdi,%rcx,1), %bl
	movb %bl, 8(%rax,%rcx,1)
	incq %rcx
	jmp .Lsc_loop
.Lsc_done:
	popq %rbx
	ret

# __string_concat(s1, s2): allocate the summed length, copy both.
__string_concat:
	pushq %rbx
	pushq %rdi
	pushq %rsi
	movq (%rdi), %rax
	addq (%rsi), %rax
	movq %rax, __concat_len(%rip)
	leaq 8(%rax), %rdi
	call __malloc
	popq %rsi
	popq %rdi
	movq __concat_len(%rip), %rcx
	movq %rcx, (%rax)
	movq (%rdi), %rcx
	leaq 8(%rdi), %r8
	leaq 8(%rax), %r9
	xorq %rdx, %rdx
.Lcc_first:
	cmpq %rcx, %rdx
	jge .Lcc_first_done
	movb (%r8,%rdx,1), %bl
	movb %bl, (%r9,%rdx,1)
	incq %rdx
	jmp .Lcc_first
.Lcc_first_done:
	addq %rcx, %r9
	movq (%rsi), %rcx
	leaq 8(%rsi), %r8
	xorq %rdx, %rdx
.Lcc_second:
	cmpq %rcx, %rdx
	jge .Lcc_second_done
	movb (%r8,%rdx,1), %bl
	movb %bl, (%r9,%rdx,1)
	incq %rdx
	jmp .Lcc_second
.Lcc_second_done:
	popq %rbx
	ret

# __string_print(s): write the bytes to fd 1, then a newline.
__string_print:
	movq (%rdi), %rdx
	leaq 8(%rdi), %rsi
	movq $1, %rax
	movq $1, %rdi
	syscall
	movq $1, %rax
	movq $1, %rdi
	leaq __newline(%rip), %rsi
	movq $1, %rdx
	syscall
	ret

# __string_uppercase(s): new copy with a-z shifted to A-Z.
__string_uppercase:
	pushq %rbx
	pushq %rdi
	movq (%rdi), %rdi
	addq $8, %rdi
	call __malloc
	popq %rdi
	movq (%rdi), %rcx
	movq %rcx, (%rax)
	xorq %rdx, %rdx
.Lup_loop:
	cmpq %rcx, %rdx
	jge .Lup_done
	movb 8(%rdi,%rdx,1), %bl
	cmpb $97, %bl
	jb .Lup_store
	cmpb $122, %bl
	ja .Lup_store
	subb $32, %bl
.Lup_store:
	movb %bl, 8(%rax,%rdx,1)
	incq %rdx
	jmp .Lup_loop
.Lup_done:
	popq %rbx
	ret

# __string_repeat(s, n): n concatenated copies.
__string_repeat:
	pushq %rbx
	pushq %r12
	pushq %r13
	movq %rdi, %r12
	movq %rsi, %r13
	movq (%rdi), %rax
	imulq %rsi, %rax
	movq %rax, %rbx
	leaq 8(%rax), %rdi
	call __malloc
	movq %rbx, (%rax)
	leaq 8(%rax), %r9
.Lrp_outer:
	testq %r13, %r13
	jz .Lrp_done
	movq (%r12), %rcx
	leaq 8(%r12), %r8
	xorq %rdx, %rdx
.Lrp_inner:
	cmpq %rcx, %rdx
	jge .Lrp_inner_done
	movb (%r8,%rdx,1), %bl
	movb %bl, (%r9,%rdx,1)
	incq %rdx
	jmp .Lrp_inner
.Lrp_inner_done:
	addq %rcx, %r9
	decq %r13
	jmp .Lrp_outer
.Lrp_done:
	popq %r13
	popq %r12
	popq %rbx
	ret

# __string_index(s, i): single-character string at index i, or 0 when
# out of bounds.
__string_index:
	pushq %rbx
	testq %rsi, %rsi
	js .Lsi_oob
	movq (%rdi), %rax
	cmpq %rax, %rsi
	jge .Lsi_oob
	movb 8(%rdi,%rsi,1), %bl
	pushq %rbx
	movq $9, %rdi
	call __malloc
	popq %rbx
	movq $1, (%rax)
	movb %bl, 8(%rax)
	popq %rbx
	ret
.Lsi_oob:
	xorq %rax, %rax
	popq %rbx
	ret

# __bulu_print_int(i): signed decimal to fd 1, trailing newline.
__bulu_print_int:
	pushq %rbp
	movq %rsp, %rbp
	subq $32, %rsp
	leaq -32(%rbp), %rsi
	call __bulu_int_to_string
	movq %rax, %rdx
	leaq -32(%rbp), %rsi
	movq $1, %rax
	movq $1, %rdi
	syscall
	movq $1, %rax
	movq $1, %rdi
	leaq __newline(%rip), %rsi
	movq $1, %rdx
	syscall
	movq %rbp, %rsp
	popq %rbp
	ret

# __bulu_int_to_string(i, buf): writes decimal digits to buf, returns
# the length. buf must hold at least 32 bytes.
__bulu_int_to_string:
	pushq %rbx
	pushq %r12
	pushq %r13
	movq %rdi, %rax
	movq %rsi, %r12
	xorq %r13, %r13
	testq %rax, %rax
	jns .Lits_digits
	negq %rax
	movq $1, %r13
.Lits_digits:
	leaq 32(%r12), %r8
	movq %r8, %rbx
	movq $10, %rcx
.Lits_loop:
	xorq %rdx, %rdx
	divq %rcx
	addb $48, %dl
	decq %rbx
	movb %dl, (%rbx)
	testq %rax, %rax
	jnz .Lits_loop
	testq %r13, %r13
	jz .Lits_copy
	decq %rbx
	movb $45, (%rbx)
.Lits_copy:
	movq %r8, %rcx
	subq %rbx, %rcx
	xorq %rdx, %rdx
.Lits_copy_loop:
	cmpq %rcx, %rdx
	jge .Lits_done
	movb (%rbx,%rdx,1), %al
	movb %al, (%r12,%rdx,1)
	incq %rdx
	jmp .Lits_copy_loop
.Lits_done:
	movq %rcx, %rax
	popq %r13
	popq %r12
	popq %rbx
	ret
`
